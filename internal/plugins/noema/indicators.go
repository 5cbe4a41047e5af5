package noema

// IntentCategory is a high-level intent class aligned with the MITRE
// ATT&CK tactic taxonomy.
type IntentCategory string

const (
	IntentExecution           IntentCategory = "execution"
	IntentPersistence         IntentCategory = "persistence"
	IntentPrivilegeEscalation IntentCategory = "privilege_escalation"
	IntentDefenseEvasion      IntentCategory = "defense_evasion"
	IntentCredentialAccess    IntentCategory = "credential_access"
	IntentDiscovery           IntentCategory = "discovery"
	IntentLateralMovement     IntentCategory = "lateral_movement"
	IntentCollection          IntentCategory = "collection"
	IntentCommandAndControl   IntentCategory = "command_and_control"
	IntentExfiltration        IntentCategory = "exfiltration"
	IntentImpact              IntentCategory = "impact"
	IntentBenign              IntentCategory = "benign"
	IntentUnknown             IntentCategory = "unknown"
)

// Indicator is one weighted contribution to an intent classification.
// EvidenceTypes name the boolean features, API names, or string
// fragments that trigger it.
type Indicator struct {
	ID            string
	Name          string
	Category      IntentCategory
	Weight        float64
	Description   string
	EvidenceTypes []string
	MitreID       string
}

var intentIndicators = []Indicator{
	// Defense evasion
	{
		ID:            "IE001",
		Name:          "Anti-Debug Behavior",
		Category:      IntentDefenseEvasion,
		Weight:        0.8,
		Description:   "Software actively detects and evades debugging",
		EvidenceTypes: []string{"anti-debug"},
		MitreID:       "T1622",
	},
	{
		ID:            "IE002",
		Name:          "Anti-VM Behavior",
		Category:      IntentDefenseEvasion,
		Weight:        0.9,
		Description:   "Software detects virtualized environments",
		EvidenceTypes: []string{"anti-vm"},
		MitreID:       "T1497",
	},
	{
		ID:            "IE003",
		Name:          "Anti-Analysis Tools",
		Category:      IntentDefenseEvasion,
		Weight:        0.95,
		Description:   "Software detects analysis tools like Frida",
		EvidenceTypes: []string{"anti-frida"},
		MitreID:       "T1622",
	},
	{
		ID:            "IE004",
		Name:          "Packing/Obfuscation",
		Category:      IntentDefenseEvasion,
		Weight:        0.7,
		Description:   "Software uses packing or obfuscation",
		EvidenceTypes: []string{"packing", "entropy"},
		MitreID:       "T1027",
	},

	// Execution
	{
		ID:            "IE010",
		Name:          "Process Injection",
		Category:      IntentExecution,
		Weight:        0.95,
		Description:   "Software injects code into other processes",
		EvidenceTypes: []string{"CreateRemoteThread", "WriteProcessMemory", "VirtualAllocEx"},
		MitreID:       "T1055",
	},
	{
		ID:            "IE011",
		Name:          "DLL Injection",
		Category:      IntentExecution,
		Weight:        0.85,
		Description:   "Software loads DLLs into other processes",
		EvidenceTypes: []string{"LoadLibrary", "GetProcAddress"},
		MitreID:       "T1055.001",
	},

	// Persistence
	{
		ID:            "IE020",
		Name:          "Registry Persistence",
		Category:      IntentPersistence,
		Weight:        0.8,
		Description:   "Software modifies registry for persistence",
		EvidenceTypes: []string{"RegSetValueEx", "RegCreateKey", `CurrentVersion\Run`},
		MitreID:       "T1547.001",
	},
	{
		ID:            "IE021",
		Name:          "Service Creation",
		Category:      IntentPersistence,
		Weight:        0.85,
		Description:   "Software creates services for persistence",
		EvidenceTypes: []string{"CreateService", "StartService", "OpenSCManager"},
		MitreID:       "T1543.003",
	},

	// Command and control
	{
		ID:            "IE030",
		Name:          "Network Communication",
		Category:      IntentCommandAndControl,
		Weight:        0.6,
		Description:   "Software establishes network connections",
		EvidenceTypes: []string{"WSAStartup", "connect", "socket", "HttpOpenRequest"},
		MitreID:       "T1071",
	},
	{
		ID:            "IE031",
		Name:          "Encrypted C2",
		Category:      IntentCommandAndControl,
		Weight:        0.8,
		Description:   "Software uses encryption for C2",
		EvidenceTypes: []string{"CryptEncrypt", "CryptDecrypt", "SSL", "TLS"},
		MitreID:       "T1573",
	},

	// Credential access
	{
		ID:            "IE040",
		Name:          "Credential Dumping",
		Category:      IntentCredentialAccess,
		Weight:        0.95,
		Description:   "Software accesses credential stores",
		EvidenceTypes: []string{"lsass", "SAM", "NTDS", "password", "credential"},
		MitreID:       "T1003",
	},
	{
		ID:            "IE041",
		Name:          "Browser Credential Access",
		Category:      IntentCredentialAccess,
		Weight:        0.85,
		Description:   "Software accesses browser credential stores",
		EvidenceTypes: []string{"Login Data", "cookies.sqlite", "Chrome", "Firefox"},
		MitreID:       "T1555.003",
	},

	// Collection
	{
		ID:            "IE050",
		Name:          "Screen Capture",
		Category:      IntentCollection,
		Weight:        0.75,
		Description:   "Software captures screen contents",
		EvidenceTypes: []string{"GetDC", "BitBlt", "CreateCompatibleBitmap"},
		MitreID:       "T1113",
	},
	{
		ID:            "IE051",
		Name:          "Keylogging",
		Category:      IntentCollection,
		Weight:        0.9,
		Description:   "Software captures keystrokes",
		EvidenceTypes: []string{"SetWindowsHookEx", "GetAsyncKeyState", "GetKeyState"},
		MitreID:       "T1056.001",
	},

	// Exfiltration
	{
		ID:            "IE060",
		Name:          "Data Exfiltration",
		Category:      IntentExfiltration,
		Weight:        0.85,
		Description:   "Software exfiltrates data over network",
		EvidenceTypes: []string{"send", "HttpSendRequest", "POST", "upload"},
		MitreID:       "T1041",
	},

	// Impact
	{
		ID:            "IE070",
		Name:          "Ransomware Indicators",
		Category:      IntentImpact,
		Weight:        0.95,
		Description:   "Software shows ransomware behavior",
		EvidenceTypes: []string{"ransom", "bitcoin", "encrypt", "decrypt", ".locked"},
		MitreID:       "T1486",
	},
	{
		ID:            "IE071",
		Name:          "Data Destruction",
		Category:      IntentImpact,
		Weight:        0.9,
		Description:   "Software destroys data",
		EvidenceTypes: []string{"DeleteFile", "wipe", "shred", "overwrite"},
		MitreID:       "T1485",
	},
}
