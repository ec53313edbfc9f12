package serverconfig

import (
	"encoding/json"
	"os"
)

// NewConfig returns a Config with sane zero-config defaults, the way
// pkg/config.NewConfig seeds nbuild's Specs/RepoDataURLs.
func NewConfig() *Config {
	return &Config{
		WorkingDirectory:  "/var/lib/buildsvc",
		MakepkgPath:       "makepkg",
		MakechrootpkgPath: "makechrootpkg",
		UpdpkgsumsPath:    "updpkgsums",
		RepoAddPath:       "repo-add",
		RepoRemovePath:    "repo-remove",
		WebBindAddress:    ":8080",
		Instances:         make(map[string]InstanceCredential),
		Users:             make(map[string]UserCredential),
		Databases:         make(map[string]DatabaseSection),
	}
}

// LoadFromFile overlays c with the JSON document at path.
func (c *Config) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	return dec.Decode(c)
}
