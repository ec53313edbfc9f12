// Package serverconfig loads the server's own process-level settings
// (working directory, pacman/chroot/tool paths, web bind address, per-user
// and per-instance credentials, per-database sections), distinct from
// pkg/pkgdata.Config's in-memory repository/database graph (spec §6, §10.3).
package serverconfig

// InstanceCredential is one `[instance/<name>]` section: the instance's URL
// and the user it authenticates as.
type InstanceCredential struct {
	URL  string
	User string
}

// UserCredential is one `[user/<name>]` section.
type UserCredential struct {
	Password string
}

// DatabaseSection is one `[database/<name>@<arch>]` section describing a
// repository database's on-disk location and sync behavior.
type DatabaseSection struct {
	Path           string
	FilesPath      string
	Mirrors        []string
	Dependencies   []string
	SyncFromMirror bool
	SigLevel       string
}

// Config is the complete server configuration this service supports,
// loaded from JSON rather than the INI shape spec §6 describes (INI parsing
// is out of scope for the core per spec §1; this is its JSON equivalent).
type Config struct {
	WorkingDirectory   string
	PacmanDatabasePath string
	PackageCacheDirs   []string

	ChrootDir    string
	ChrootUser   string
	CCacheDir    string
	MakepkgPath  string
	MakechrootpkgPath string
	UpdpkgsumsPath    string
	RepoAddPath       string
	RepoRemovePath    string

	// RecipeTreeURL, if set, is the git remote PrepareBuild checks out
	// PKGBUILDs from (spec §4.7 step 1) in addition to pkgbuildsDirs.
	RecipeTreeURL string

	WebBindAddress string

	Instances map[string]InstanceCredential
	Users     map[string]UserCredential
	Databases map[string]DatabaseSection
}
