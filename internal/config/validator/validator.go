// Package validator provides configuration validation
package validator

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/tunnel"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string // Field path (e.g., "proxy.port")
	Value   string // Current value
	Message string // Error message
	Hint    string // Fix suggestion
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains all validation errors
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error message
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n\n")
	for i, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Field))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf("     Current value: %s\n", err.Value))
		}
		sb.WriteString(fmt.Sprintf("     Error: %s\n", err.Message))
		if err.Hint != "" {
			sb.WriteString(fmt.Sprintf("     Hint: %s\n", err.Hint))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// HasField reports whether a validation error was recorded for field
func (r *ValidationResult) HasField(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// ValidationRule is a function that validates configuration
type ValidationRule func(cfg *schema.Root, result *ValidationResult)

// NewValidator creates a new Validator with default rules
func NewValidator() *Validator {
	v := &Validator{rules: make([]ValidationRule, 0)}

	v.AddRule(validateService)
	v.AddRule(validateProxy)
	v.AddRule(validateDesync)
	v.AddRule(validateVPN)
	v.AddRule(validateHealth)
	v.AddRule(validateAPI)
	v.AddRule(validateLog)

	return v
}

// AddRule adds a validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the configuration
func (v *Validator) Validate(cfg *schema.Root) *ValidationResult {
	result := &ValidationResult{Errors: make([]ValidationError, 0)}
	for _, rule := range v.rules {
		rule(cfg, result)
	}
	return result
}

// ValidateConfig is a convenience function that creates a validator and validates
func ValidateConfig(cfg *schema.Root) *ValidationResult {
	return NewValidator().Validate(cfg)
}

func validateService(cfg *schema.Root, result *ValidationResult) {
	switch cfg.Service.Mode {
	case schema.ModeVPN, schema.ModeProxy:
	default:
		result.AddError("service.mode", cfg.Service.Mode, "unknown service mode", "use vpn or proxy")
	}
	if cfg.Service.StopTimeout <= 0 {
		result.AddError("service.stop_timeout", cfg.Service.StopTimeout.String(), "must be positive", "e.g. 1s")
	}
	if cfg.Service.ForceGrace < 0 {
		result.AddError("service.force_grace", cfg.Service.ForceGrace.String(), "must not be negative", "")
	}
}

func validateProxy(cfg *schema.Root, result *ValidationResult) {
	p := cfg.Proxy

	switch p.Engine {
	case schema.EngineExec:
		if strings.TrimSpace(p.Binary) == "" {
			result.AddError("proxy.binary", "", "exec engine requires a binary path", "set proxy.binary to the ciadpi executable")
		}
	case schema.EngineBuiltin:
	default:
		result.AddError("proxy.engine", p.Engine, "unknown proxy engine", "use exec or builtin")
	}

	if net.ParseIP(p.IP) == nil {
		result.AddError("proxy.ip", p.IP, "invalid IP address", "e.g. 127.0.0.1")
	}
	validatePort("proxy.port", p.Port, result)

	if p.MaxConnections <= 0 {
		result.AddError("proxy.max_connections", fmt.Sprint(p.MaxConnections), "must be positive", "")
	}
	if p.BufferSize <= 0 {
		result.AddError("proxy.buffer_size", fmt.Sprint(p.BufferSize), "must be positive", "")
	}
	if p.DefaultTTL < 0 || p.DefaultTTL > 255 {
		result.AddError("proxy.default_ttl", fmt.Sprint(p.DefaultTTL), "must be within 0-255", "0 keeps the system default")
	}

	if p.UseCommandLine {
		if strings.TrimSpace(p.CommandLine) == "" {
			result.AddError("proxy.command_line", "", "command line mode enabled but command line is empty", "")
		} else if _, err := shlex.Split(p.CommandLine); err != nil {
			result.AddError("proxy.command_line", p.CommandLine, fmt.Sprintf("cannot parse: %v", err), "check quoting")
		}
	}
}

func validateDesync(cfg *schema.Root, result *ValidationResult) {
	p := cfg.Proxy
	if p.UseCommandLine {
		return
	}

	switch p.DesyncMethod {
	case schema.DesyncNone, schema.DesyncSplit, schema.DesyncDisorder,
		schema.DesyncFake, schema.DesyncOOB, schema.DesyncDisOOB:
	default:
		result.AddError("proxy.desync_method", p.DesyncMethod, "unknown desync method",
			"use none, split, disorder, fake, oob or disoob")
	}
	if p.DesyncMethod == schema.DesyncFake && (p.FakeTTL < 1 || p.FakeTTL > 255) {
		result.AddError("proxy.fake_ttl", fmt.Sprint(p.FakeTTL), "must be within 1-255", "")
	}
	if (p.DesyncMethod == schema.DesyncOOB || p.DesyncMethod == schema.DesyncDisOOB) && len(p.OOBData) != 1 {
		result.AddError("proxy.oob_data", p.OOBData, "must be exactly one byte", "")
	}
	if p.UDPFakeCount < 0 {
		result.AddError("proxy.udp_fake_count", fmt.Sprint(p.UDPFakeCount), "must not be negative", "")
	}
}

func validateVPN(cfg *schema.Root, result *ValidationResult) {
	v := cfg.VPN

	if v.MTU < 576 || v.MTU > 65535 {
		result.AddError("vpn.mtu", fmt.Sprint(v.MTU), "must be within 576-65535", "default is 8500")
	}
	if dns := strings.TrimSpace(v.DNS); dns != "" && net.ParseIP(dns) == nil {
		result.AddError("vpn.dns", v.DNS, "invalid DNS address", "leave empty to use no DNS server")
	}

	switch v.AppPolicy {
	case schema.AppPolicyDisabled, schema.AppPolicyBlacklist:
	case schema.AppPolicyWhitelist:
		if len(v.Apps) == 0 && cfg.Service.Mode == schema.ModeVPN {
			result.AddError("vpn.apps", "", "whitelist mode with no applications routes nothing", "add applications or disable the policy")
		}
	default:
		result.AddError("vpn.app_policy", v.AppPolicy, "unknown app policy", "use disabled, whitelist or blacklist")
	}

	if v.TaskStackSize <= 0 {
		result.AddError("vpn.task_stack_size", fmt.Sprint(v.TaskStackSize), "must be positive", "")
	}
	if v.UDPMode == "" {
		result.AddError("vpn.udp_mode", "", "must not be empty", "default is udp")
	}
	if _, err := tunnel.NormalizeLogLevel(v.LogLevel); err != nil {
		result.AddError("vpn.log_level", v.LogLevel, "unknown tunnel log level", "debug, info, warn, error or silent")
	}
}

func validateHealth(cfg *schema.Root, result *ValidationResult) {
	if cfg.Health.SettleDelay < 0 {
		result.AddError("health.settle_delay", cfg.Health.SettleDelay.String(), "must not be negative", "")
	}
	if cfg.Health.ProbeTimeout <= 0 {
		result.AddError("health.probe_timeout", cfg.Health.ProbeTimeout.String(), "must be positive", "e.g. 1s")
	}
	if cfg.Health.ProbeTarget != "" {
		if _, _, err := net.SplitHostPort(cfg.Health.ProbeTarget); err != nil {
			result.AddError("health.probe_target", cfg.Health.ProbeTarget, "invalid host:port", "e.g. 1.1.1.1:443")
		}
	}
}

func validateAPI(cfg *schema.Root, result *ValidationResult) {
	if !cfg.API.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		result.AddError("api.listen", cfg.API.Listen, "invalid listen address", "e.g. 127.0.0.1:9091")
	}
}

func validateLog(cfg *schema.Root, result *ValidationResult) {
	if cfg.Log.Level != "" {
		if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
			result.AddError("log.level", cfg.Log.Level, "invalid log level", "use debug, info, warn or error")
		}
	}
	switch cfg.Log.Format {
	case "", schema.LogFormatText, schema.LogFormatJSON:
	default:
		result.AddError("log.format", cfg.Log.Format, "invalid log format", "use text or json")
	}
	if cfg.Log.Output == "file" && cfg.Log.File == "" {
		result.AddError("log.file", "", "file output requires a path", "")
	}
}

func validatePort(field string, port int, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprint(port), "port must be within 1-65535", "")
	}
}
