// Package config loads the single nested configuration document the
// process reads at startup (spec.md §6): tests, presentation_views, API,
// eval_server, remote_services, models and datasets. The document is YAML,
// decoded with gopkg.in/yaml.v3, with the eval server's per-backend
// server_config fragment (its shape differs between "vbs" and "dres")
// decoded loosely and then coerced field-by-field with spf13/cast, the way
// a config layer normally handles heterogeneous scalars instead of writing
// a second bespoke parser.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration document.
type Config struct {
	Tests            TestsConfig            `yaml:"tests"`
	PresentationViews PresentationViewsConfig `yaml:"presentation_views"`
	API              APIConfig              `yaml:"API"`
	EvalServer       EvalServerConfig       `yaml:"eval_server"`
	RemoteServices   RemoteServicesConfig   `yaml:"remote_services"`
	Models           ModelsConfig           `yaml:"models"`
	Datasets         DatasetsConfig         `yaml:"datasets"`
	Archive          ArchiveConfig          `yaml:"archive"`
}

// ArchiveConfig enables the optional Postgres archive of the three log
// streams. An empty DSN leaves archival off.
type ArchiveConfig struct {
	PostgresURL string `yaml:"postgres_URL"`
}

type TestsConfig struct {
	TestDataRoot string `yaml:"test_data_root"`
}

// PresentationViewsConfig mirrors display.Config's tunables (spec.md §6).
type PresentationViewsConfig struct {
	DisplayPageSize   int `yaml:"display_page_size"`
	TopNFramesPerVideo int `yaml:"topn_frames_per_video"`
	TopNFramesPerShot  int `yaml:"topn_frames_per_shot"`
}

type APIConfig struct {
	LocalOnly      bool   `yaml:"local_only"`
	Port           int    `yaml:"port"`
	ConfigFilepath string `yaml:"config_filepath"`
	DocsDir        string `yaml:"docs_dir"`
}

// EvalServerConfig configures the vbs/dres submission client. ServerConfig
// holds the free-form sub-document whose shape differs per backend; it is
// decoded into a map and read through the cast accessors below rather than
// two parallel typed structs.
type EvalServerConfig struct {
	DoNetworkRequests      bool                   `yaml:"do_network_requests"`
	SubmitLSCIDs           bool                   `yaml:"submit_LSC_IDs"`
	AllowInsecure          bool                   `yaml:"allow_insecure"`
	TeamID                 string                 `yaml:"team_ID"`
	MemberID               string                 `yaml:"member_ID"`
	LogDirSummary          string                 `yaml:"log_dir_summary"`
	LogDirActions          string                 `yaml:"log_dir_actions"`
	LogDirResults          string                 `yaml:"log_dir_results"`
	LogFileSuffix          string                 `yaml:"log_file_suffix"`
	ExtraVerboseLog        bool                   `yaml:"extra_verbose_log"`
	SendLogsToServerPeriod int                    `yaml:"send_logs_to_server_period"`
	LogActionTimeout       int                    `yaml:"log_action_timeout"`
	SubmitServer           string                 `yaml:"submit_server"`
	ServerConfig           map[string]interface{} `yaml:"server_config"`
}

// VBSConfig pulls the fields a "vbs" submit_server needs out of the loose
// ServerConfig document.
func (e EvalServerConfig) VBSConfig() (address string, port int, err error) {
	address, err = cast.ToStringE(e.ServerConfig["address"])
	if err != nil {
		return "", 0, fmt.Errorf("config: eval_server.server_config.address: %w", err)
	}
	port, err = cast.ToIntE(e.ServerConfig["port"])
	if err != nil {
		return "", 0, fmt.Errorf("config: eval_server.server_config.port: %w", err)
	}
	return address, port, nil
}

// DRESConfig pulls the fields a "dres" submit_server needs, including the
// cookie-backed login credentials the vbs backend doesn't have.
func (e EvalServerConfig) DRESConfig() (address, username, password string, err error) {
	address, err = cast.ToStringE(e.ServerConfig["address"])
	if err != nil {
		return "", "", "", fmt.Errorf("config: eval_server.server_config.address: %w", err)
	}
	username, err = cast.ToStringE(e.ServerConfig["username"])
	if err != nil {
		return "", "", "", fmt.Errorf("config: eval_server.server_config.username: %w", err)
	}
	password, err = cast.ToStringE(e.ServerConfig["password"])
	if err != nil {
		return "", "", "", fmt.Errorf("config: eval_server.server_config.password: %w", err)
	}
	return address, username, password, nil
}

type RemoteServicesConfig struct {
	CLIPQueryToVec AddressConfig `yaml:"CLIP_query_to_vec"`
	MediaServer    AddressConfig `yaml:"media_server"`
}

type AddressConfig struct {
	Address string `yaml:"address"`
}

type ModelsConfig struct {
	ModelsDir              string `yaml:"models_dir"`
	ModelW2VVImgBias       string `yaml:"model_W2VV_img_bias"`
	ModelW2VVImgWeights    string `yaml:"model_W2VV_img_weigths"`
	ModelResNetFile        string `yaml:"model_ResNet_file"`
	ModelResNetSHA256      string `yaml:"model_ResNet_SHA256"`
	ModelResNextFile       string `yaml:"model_ResNext_file"`
	ModelResNextSHA256     string `yaml:"model_ResNext_SHA256"`
}

type DatasetsConfig struct {
	DataDir          string              `yaml:"data_dir"`
	FramesDir        string              `yaml:"frames_dir"`
	ThumbsDir        string              `yaml:"thumbs_dir"`
	LSCMetadataFile  string              `yaml:"LSC_metadata_file"`
	FramesListFile   string              `yaml:"frames_list_file"`
	FilenameOffsets  FilenameOffsets     `yaml:"filename_offsets"`
	PrimaryFeatures  PrimaryFeatures     `yaml:"primary_features"`
	SecondaryFeatures SecondaryFeatures  `yaml:"secondary_features"`
}

// FilenameOffsets are the fixed-width fields of the frames-list file
// (spec.md §6 "Frames list").
type FilenameOffsets struct {
	VidIDOff    int `yaml:"vid_ID_off"`
	VidIDLen    int `yaml:"vid_ID_len"`
	ShotIDOff   int `yaml:"shot_ID_off"`
	ShotIDLen   int `yaml:"shot_ID_len"`
	FrameNumOff int `yaml:"frame_num_off"`
	FrameNumLen int `yaml:"frame_num_len"`
}

type PrimaryFeatures struct {
	FeaturesFile         string `yaml:"features_file"`
	FeaturesFileDataOff  int    `yaml:"features_file_data_off"`
	FeaturesDim          int    `yaml:"features_dim"`
	PrePCAFeaturesDim    int    `yaml:"pre_PCA_features_dim"`
	KwBiasVecFile        string `yaml:"kw_bias_vec_file"`
	KwScoresMatFile      string `yaml:"kw_scores_mat_file"`
	KwPCAMeanVecFile     string `yaml:"kw_PCA_mean_vec_file"`
	KwPCAMatFile         string `yaml:"kw_PCA_mat_file"`
	KwPCAMatDim          int    `yaml:"kw_PCA_mat_dim"`
	KwsFile              string `yaml:"kws_file"`
	CollageRegionFilePrefix string `yaml:"collage_region_file_prefix"`
	CollageRegions       int    `yaml:"collage_regions"`
}

type SecondaryFeatures struct {
	FeaturesFile        string `yaml:"features_file"`
	FeaturesFileDataOff int    `yaml:"features_file_data_off"`
	FeaturesDim         int    `yaml:"features_dim"`
}

// Defaults mirrors the values the original config.yaml ships with, so an
// incomplete document still produces a runnable configuration.
func Defaults() *Config {
	return &Config{
		PresentationViews: PresentationViewsConfig{
			DisplayPageSize:    24,
			TopNFramesPerVideo: 4,
			TopNFramesPerShot:  1,
		},
		API: APIConfig{
			LocalOnly: true,
			Port:      8080,
			DocsDir:   "docs/",
		},
		EvalServer: EvalServerConfig{
			SendLogsToServerPeriod: 5,
			LogActionTimeout:       1500,
			SubmitServer:           "vbs",
			ServerConfig:           map[string]interface{}{},
		},
	}
}

// Load reads and decodes the YAML document at path, layering it over
// Defaults(). A missing docs_dir trailing slash is appended, matching the
// original loader's path normalization.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.API.ConfigFilepath == "" {
		cfg.API.ConfigFilepath = path
	}
	if cfg.API.DocsDir != "" && !strings.HasSuffix(cfg.API.DocsDir, "/") {
		cfg.API.DocsDir += "/"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a configuration document too malformed to start from.
func (c *Config) Validate() error {
	if c.EvalServer.SubmitServer != "" && c.EvalServer.SubmitServer != "vbs" && c.EvalServer.SubmitServer != "dres" {
		return fmt.Errorf("eval_server.submit_server must be \"vbs\" or \"dres\", got %q", c.EvalServer.SubmitServer)
	}
	if c.PresentationViews.DisplayPageSize <= 0 {
		return fmt.Errorf("presentation_views.display_page_size must be positive")
	}
	if c.Datasets.PrimaryFeatures.FeaturesDim <= 0 {
		return fmt.Errorf("datasets.primary_features.features_dim must be positive")
	}
	return nil
}
