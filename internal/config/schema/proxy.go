package schema

// Proxy engine kinds
const (
	EngineExec    = "exec"    // external ciadpi-compatible binary
	EngineBuiltin = "builtin" // in-process SOCKS5 forwarder
)

// Desync methods
const (
	DesyncNone     = "none"
	DesyncSplit    = "split"
	DesyncDisorder = "disorder"
	DesyncFake     = "fake"
	DesyncOOB      = "oob"
	DesyncDisOOB   = "disoob"
)

// ProxyConfig contains the local proxy endpoint and engine parameters
type ProxyConfig struct {
	Engine string `yaml:"engine" json:"engine"`
	Binary string `yaml:"binary" json:"binary"`

	IP   string `yaml:"ip" json:"ip"`
	Port int    `yaml:"port" json:"port"`

	MaxConnections int  `yaml:"max_connections" json:"max_connections"`
	BufferSize     int  `yaml:"buffer_size" json:"buffer_size"`
	DefaultTTL     int  `yaml:"default_ttl" json:"default_ttl"`
	NoDomain       bool `yaml:"no_domain" json:"no_domain"`

	DesyncHTTP  bool `yaml:"desync_http" json:"desync_http"`
	DesyncHTTPS bool `yaml:"desync_https" json:"desync_https"`
	DesyncUDP   bool `yaml:"desync_udp" json:"desync_udp"`

	DesyncMethod  string `yaml:"desync_method" json:"desync_method"`
	SplitPosition int    `yaml:"split_position" json:"split_position"`
	SplitAtHost   bool   `yaml:"split_at_host" json:"split_at_host"`
	DropSack      bool   `yaml:"drop_sack" json:"drop_sack"`

	FakeTTL    int    `yaml:"fake_ttl" json:"fake_ttl"`
	FakeSNI    string `yaml:"fake_sni" json:"fake_sni"`
	FakeOffset int    `yaml:"fake_offset" json:"fake_offset"`
	OOBData    string `yaml:"oob_data" json:"oob_data"`

	HostMixedCase    bool `yaml:"host_mixed_case" json:"host_mixed_case"`
	DomainMixedCase  bool `yaml:"domain_mixed_case" json:"domain_mixed_case"`
	HostRemoveSpaces bool `yaml:"host_remove_spaces" json:"host_remove_spaces"`

	TLSRecordSplit         bool `yaml:"tls_record_split" json:"tls_record_split"`
	TLSRecordSplitPosition int  `yaml:"tls_record_split_position" json:"tls_record_split_position"`
	TLSRecordSplitAtSNI    bool `yaml:"tls_record_split_at_sni" json:"tls_record_split_at_sni"`

	TCPFastOpen  bool `yaml:"tcp_fast_open" json:"tcp_fast_open"`
	UDPFakeCount int  `yaml:"udp_fake_count" json:"udp_fake_count"`

	// When UseCommandLine is set, CommandLine replaces all flags above except ip/port
	UseCommandLine bool   `yaml:"use_command_line" json:"use_command_line"`
	CommandLine    string `yaml:"command_line" json:"command_line"`
}
