package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/scenario"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Observability ObservabilityConfig
	Sources       SourcesConfig
	Provider      ProviderConfig
	Scenarios     ScenariosConfig
}

type ServerConfig struct {
	Port int
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

type SourcesConfig struct {
	PartyBaseURL    string
	ServiceToken    string
	TokenIssuer     string
	TokenSecret     string
	TokenTTLSeconds int
	HTTPConcurrency int
	HTTPTimeoutMS   int
}

type ProviderConfig struct {
	BaseURL       string
	DefaultAPIKey string
	APIKeys       map[string]string
}

type ScenariosConfig struct {
	Whitelists              map[string][]string
	Templates               map[string]map[string]string
	TaskObjectTypeID        string
	MessageObjectTypeID     string
	UnknownObjectTypePolicy string
}

// scenarioKinds are the configurable scenario kinds, in env-variable casing.
var scenarioKinds = []string{
	"case_created",
	"case_status_updated",
	"case_finished",
	"task_assigned",
	"message_received",
	"decision_made",
}

func Load() (Config, error) {
	return load(true)
}

// LoadForTool loads config for CLI tools that do not require provider wiring.
func LoadForTool() (Config, error) {
	return load(false)
}

func load(requireProvider bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("casenotify_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("casenotify_port", 8080)
	v.SetDefault("casenotify_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "casenotify")
	v.SetDefault("casenotify_service_name", "casenotify")
	v.SetDefault("casenotify_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("casenotify_otel_sampling_ratio", 1.0)
	v.SetDefault("casenotify_otel_metrics_console", false)
	v.SetDefault("casenotify_party_base_url", "")
	v.SetDefault("casenotify_service_token", "")
	v.SetDefault("casenotify_token_issuer", "casenotify")
	v.SetDefault("casenotify_token_secret", "")
	v.SetDefault("casenotify_token_ttl_seconds", 300)
	v.SetDefault("casenotify_http_concurrency", 16)
	v.SetDefault("casenotify_http_timeout_ms", 10000)
	v.SetDefault("casenotify_provider_base_url", "")
	v.SetDefault("casenotify_provider_api_key", "")
	v.SetDefault("casenotify_provider_api_keys", "")
	v.SetDefault("casenotify_task_object_type_id", "task")
	v.SetDefault("casenotify_message_object_type_id", "message")
	v.SetDefault("casenotify_unknown_object_type_policy", string(scenario.PolicyEscalate))
	for _, kind := range scenarioKinds {
		v.SetDefault("casenotify_whitelist_"+kind, "")
		v.SetDefault("casenotify_template_"+kind+"_email", "")
		v.SetDefault("casenotify_template_"+kind+"_sms", "")
	}

	env := resolveEnvironment(v)
	port := v.GetInt("casenotify_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid CASENOTIFY_PORT: %d", port)
	}

	samplingRatio := v.GetFloat64("casenotify_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	tokenTTL := v.GetInt("casenotify_token_ttl_seconds")
	if tokenTTL <= 0 {
		tokenTTL = 300
	}
	if tokenTTL > 3600 {
		tokenTTL = 3600
	}

	concurrency := v.GetInt("casenotify_http_concurrency")
	if concurrency <= 0 {
		concurrency = 16
	}
	if concurrency > 256 {
		concurrency = 256
	}

	timeoutMS := v.GetInt("casenotify_http_timeout_ms")
	if timeoutMS <= 0 {
		timeoutMS = 10000
	}
	if timeoutMS > 60000 {
		timeoutMS = 60000
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("casenotify_service_name"))
	}
	if serviceName == "" {
		serviceName = "casenotify"
	}

	serviceVersion := strings.TrimSpace(v.GetString("casenotify_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parsePairs(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parsePairs(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parsePairs(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("casenotify_otel_metrics_console")
	otelEnabled := v.GetBool("casenotify_otel_enabled") || otlpEndpoint != "" || metricsConsole

	policy := strings.ToLower(strings.TrimSpace(v.GetString("casenotify_unknown_object_type_policy")))
	switch policy {
	case string(scenario.PolicyEscalate), string(scenario.PolicySkip):
	default:
		return Config{}, fmt.Errorf("invalid CASENOTIFY_UNKNOWN_OBJECT_TYPE_POLICY: %q", policy)
	}

	whitelists := make(map[string][]string, len(scenarioKinds))
	templates := make(map[string]map[string]string, len(scenarioKinds))
	for _, kind := range scenarioKinds {
		whitelists[kind] = parseList(v.GetString("casenotify_whitelist_" + kind))
		templates[kind] = map[string]string{
			"email": strings.TrimSpace(v.GetString("casenotify_template_" + kind + "_email")),
			"sms":   strings.TrimSpace(v.GetString("casenotify_template_" + kind + "_sms")),
		}
	}

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
		Sources: SourcesConfig{
			PartyBaseURL:    strings.TrimSpace(v.GetString("casenotify_party_base_url")),
			ServiceToken:    strings.TrimSpace(v.GetString("casenotify_service_token")),
			TokenIssuer:     strings.TrimSpace(v.GetString("casenotify_token_issuer")),
			TokenSecret:     strings.TrimSpace(v.GetString("casenotify_token_secret")),
			TokenTTLSeconds: tokenTTL,
			HTTPConcurrency: concurrency,
			HTTPTimeoutMS:   timeoutMS,
		},
		Provider: ProviderConfig{
			BaseURL:       strings.TrimSpace(v.GetString("casenotify_provider_base_url")),
			DefaultAPIKey: strings.TrimSpace(v.GetString("casenotify_provider_api_key")),
			APIKeys:       parsePairs(v.GetString("casenotify_provider_api_keys")),
		},
		Scenarios: ScenariosConfig{
			Whitelists:              whitelists,
			Templates:               templates,
			TaskObjectTypeID:        strings.TrimSpace(v.GetString("casenotify_task_object_type_id")),
			MessageObjectTypeID:     strings.TrimSpace(v.GetString("casenotify_message_object_type_id")),
			UnknownObjectTypePolicy: policy,
		},
	}

	if requireProvider && !cfg.IsLocalDevelopment() {
		if cfg.Provider.BaseURL == "" || cfg.Provider.DefaultAPIKey == "" && len(cfg.Provider.APIKeys) == 0 {
			return Config{}, fmt.Errorf("provider base URL and an api key are required outside local/dev environments")
		}
		if cfg.Sources.ServiceToken == "" {
			return Config{}, fmt.Errorf("CASENOTIFY_SERVICE_TOKEN is required outside local/dev environments")
		}
		if cfg.Sources.TokenSecret == "" {
			return Config{}, fmt.Errorf("CASENOTIFY_TOKEN_SECRET is required outside local/dev environments")
		}
	}

	return cfg, nil
}

// parsePairs parses "key=value,key=value" environment values.
func parsePairs(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

// SourceTimeout is the per-request timeout for outbound calls.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Sources.HTTPTimeoutMS) * time.Millisecond
}

// TokenTTL is the lifetime of generated data-source tokens.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Sources.TokenTTLSeconds) * time.Second
}

// ScenarioSettings converts the loaded configuration into the scenario
// package's settings shape.
func (c Config) ScenarioSettings() scenario.Settings {
	whitelists := make(map[scenario.Kind][]string, len(c.Scenarios.Whitelists))
	for kind, ids := range c.Scenarios.Whitelists {
		whitelists[scenario.Kind(kind)] = ids
	}
	templates := make(map[scenario.Kind]map[dispatch.Channel]string, len(c.Scenarios.Templates))
	for kind, byChannel := range c.Scenarios.Templates {
		templates[scenario.Kind(kind)] = map[dispatch.Channel]string{
			dispatch.ChannelEmail: byChannel["email"],
			dispatch.ChannelSMS:   byChannel["sms"],
		}
	}
	return scenario.Settings{
		Whitelists:              whitelists,
		Templates:               templates,
		TaskObjectTypeID:        c.Scenarios.TaskObjectTypeID,
		MessageObjectTypeID:     c.Scenarios.MessageObjectTypeID,
		UnknownObjectTypePolicy: scenario.Policy(c.Scenarios.UnknownObjectTypePolicy),
	}
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"casenotify_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
