package schema

// App policy modes
const (
	AppPolicyDisabled  = "disabled"
	AppPolicyWhitelist = "whitelist"
	AppPolicyBlacklist = "blacklist"
)

// VPNConfig contains virtual interface and tunnel adapter settings
type VPNConfig struct {
	TunName     string   `yaml:"tun_name" json:"tun_name"`
	MTU         int      `yaml:"mtu" json:"mtu"`
	DNS         string   `yaml:"dns" json:"dns"`
	IPv6        bool     `yaml:"ipv6" json:"ipv6"`
	AppPolicy   string   `yaml:"app_policy" json:"app_policy"`
	Apps        []string `yaml:"apps" json:"apps"`
	SelfPackage string   `yaml:"self_package" json:"self_package"`

	TaskStackSize int    `yaml:"task_stack_size" json:"task_stack_size"`
	UDPMode       string `yaml:"udp_mode" json:"udp_mode"`
	LogLevel      string `yaml:"log_level" json:"log_level"` // tunnel adapter log level
}
