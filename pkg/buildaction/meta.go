package buildaction

// FlagInfo describes one Flag a given action type accepts, for
// introspection by the web form UI and the CLI (spec §4.10).
type FlagInfo struct {
	Flag        Flag
	Name        string
	Description string
}

// SettingInfo describes one named string setting an action type accepts.
type SettingInfo struct {
	Name        string
	Description string
	ParamKey    string
}

// TypeMetaInfo is the declarative record for one BuildActionType: flags,
// settings, and the database/package-name shape it requires (spec §4.10).
type TypeMetaInfo struct {
	ID       Type
	Category string
	Name     string
	Slug     string

	Flags    []FlagInfo
	Settings []SettingInfo

	RequiresDirectory      bool
	RequiresSourceDbs      int // -1 means "any number >= 1"
	RequiresDestinationDbs int
	RequiresPackageNames   bool
}

// InvalidTypeMetaInfo is returned by TypeInfoForName/TypeInfoForId when the
// lookup key does not name a known action type.
var InvalidTypeMetaInfo = TypeMetaInfo{ID: TypeInvalid, Name: "Invalid", Slug: "invalid"}

var metaTable = []TypeMetaInfo{
	{
		ID: TypeRemovePackages, Category: "repository management", Name: "Remove packages", Slug: "remove-packages",
		RequiresDestinationDbs: 1, RequiresPackageNames: true,
	},
	{
		ID: TypeMovePackages, Category: "repository management", Name: "Move packages", Slug: "move-packages",
		RequiresSourceDbs: 1, RequiresDestinationDbs: 1, RequiresPackageNames: true,
	},
	{
		ID: TypeCheckForUpdates, Category: "repository management", Name: "Check for updates", Slug: "check-for-updates",
		RequiresDestinationDbs: 1,
	},
	{
		ID: TypeReloadDatabase, Category: "repository management", Name: "Reload database", Slug: "reload-database",
		RequiresDestinationDbs: 1,
	},
	{
		ID: TypeReloadLibraryDependencies, Category: "repository management", Name: "Reload library dependencies", Slug: "reload-library-dependencies",
		Flags: []FlagInfo{
			{Flag: FlagForceReload, Name: "force", Description: "re-parse packages even if already fully analyzed"},
			{Flag: FlagSkipDependencies, Name: "skip-dependencies", Description: "do not pull in dependency databases"},
		},
	},
	{
		ID: TypePrepareBuild, Category: "building", Name: "Prepare build", Slug: "prepare-build",
		RequiresDestinationDbs: 1, RequiresPackageNames: true,
		Flags: []FlagInfo{
			{Flag: FlagForceBumpPkgRel, Name: "force-bump-pkgrel", Description: "bump pkgrel to 1 even for packages not yet present"},
			{Flag: FlagCleanSrcDir, Name: "clean-src-dir", Description: "remove <pkgname>/src before writing new sources"},
			{Flag: FlagKeepOrder, Name: "keep-order", Description: "keep the caller-supplied package order instead of graph order"},
			{Flag: FlagKeepPkgRelAndEpoch, Name: "keep-pkgrel-and-epoch", Description: "never bump pkgrel"},
			{Flag: FlagConsiderBuildDependencies, Name: "consider-build-dependencies", Description: "add make+check deps as graph edges"},
			{Flag: FlagIncludeAllDependencies, Name: "include-all-dependencies", Description: "accepted, but has no effect: the graph covers only the requested packages"},
		},
		Settings: []SettingInfo{
			{Name: "pkgbuilds-dirs", Description: "colon-separated PKGBUILD search path", ParamKey: "pkgbuildsDirs"},
		},
	},
	{
		ID: TypeConductBuild, Category: "building", Name: "Conduct build", Slug: "conduct-build",
		RequiresDestinationDbs: 1,
		Flags: []FlagInfo{
			{Flag: FlagBuildAsFarAsPossible, Name: "build-as-far-as-possible", Description: "continue with the remaining batches after a failure, including packages that depend on a failed one"},
			{Flag: FlagSaveChrootOfFailures, Name: "save-chroot-of-failures", Description: "rename aside the chroot working copy on failure"},
			{Flag: FlagUpdateChecksums, Name: "update-checksums", Description: "run updpkgsums before building"},
			{Flag: FlagAutoStaging, Name: "auto-staging", Description: "redirect to a staging db when reverse deps would break"},
		},
		Settings: []SettingInfo{
			{Name: "chroot-dir", Description: "root of the arch-<arch> chroots", ParamKey: "chrootDir"},
			{Name: "chroot-user", Description: "user makechrootpkg builds as", ParamKey: "chrootUser"},
			{Name: "ccache-dir", Description: "ccache directory bind-mounted into the chroot", ParamKey: "ccacheDir"},
			{Name: "package-cache-dir", Description: "pacman package cache directory", ParamKey: "packageCacheDir"},
			{Name: "test-files-dir", Description: "directory of test fixtures", ParamKey: "testFilesDir"},
		},
	},
	{
		ID: TypeCleanRepository, Category: "repository management", Name: "Clean repository", Slug: "clean-repository",
		RequiresDestinationDbs: 1,
		Flags: []FlagInfo{
			{Flag: FlagDryRun, Name: "dry-run", Description: "report actions without mutating the filesystem"},
		},
	},
	{
		ID: TypeCustomCommand, Category: "miscellaneous", Name: "Custom command", Slug: "custom-command",
		RequiresDirectory: true,
		Settings: []SettingInfo{
			{Name: "command", Description: "shell command to run", ParamKey: "command"},
		},
	},
}

var (
	metaByID   map[Type]TypeMetaInfo
	metaBySlug map[string]TypeMetaInfo
)

func init() {
	metaByID = make(map[Type]TypeMetaInfo, len(metaTable))
	metaBySlug = make(map[string]TypeMetaInfo, len(metaTable))
	for _, m := range metaTable {
		metaByID[m.ID] = m
		metaBySlug[m.Slug] = m
	}
}

// TypeInfoForName returns the meta-info for the action type named by slug,
// or InvalidTypeMetaInfo if unknown.
func TypeInfoForName(slug string) TypeMetaInfo {
	if m, ok := metaBySlug[slug]; ok {
		return m
	}
	return InvalidTypeMetaInfo
}

// TypeInfoForId returns the meta-info for action type id, or
// InvalidTypeMetaInfo if unknown.
func TypeInfoForId(id Type) TypeMetaInfo {
	if m, ok := metaByID[id]; ok {
		return m
	}
	return InvalidTypeMetaInfo
}
