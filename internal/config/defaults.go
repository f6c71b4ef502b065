package config

import "os"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/ronbun/data/papers.db"
	}
	if cfg.Storage.ConceptMapsDir == "" {
		cfg.Storage.ConceptMapsDir = "/usr/local/var/ronbun/data/concept_maps"
	}
	if cfg.Storage.IndexRoot == "" {
		cfg.Storage.IndexRoot = "/usr/local/var/ronbun/data/indices"
	}
	if cfg.Storage.PapersDir == "" {
		cfg.Storage.PapersDir = "/usr/local/var/ronbun/data/papers"
	}
	if cfg.Storage.CloneDir == "" {
		cfg.Storage.CloneDir = "/usr/local/var/ronbun/data/repos"
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Session.MaxIdleHours == 0 {
		cfg.Session.MaxIdleHours = 2
	}
	if cfg.Session.SweepMinutes == 0 {
		cfg.Session.SweepMinutes = 15
	}
	if cfg.Search.MaxOptions == 0 {
		cfg.Search.MaxOptions = 3
	}
	if cfg.Search.ChatResults == 0 {
		cfg.Search.ChatResults = 3
	}
	if cfg.Search.MaxFileKB == 0 {
		cfg.Search.MaxFileKB = 256
	}
	if cfg.Search.Extensions == nil {
		cfg.Search.Extensions = []string{
			".py", ".go", ".js", ".ts", ".c", ".cc", ".cpp", ".h", ".java", ".rs",
			".md", ".rst", ".txt", ".yaml", ".yml", ".toml",
		}
	}
}
