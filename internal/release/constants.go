package release

const (
	// OperatorURL is the database build tool fetched on every run.
	OperatorURL = "https://raw.githubusercontent.com/MiSTer-devel/Distribution_MiSTer/main/.github/db_operator.py"
	// DownloaderURL is the downloader used to validate the built database.
	DownloaderURL = "https://raw.githubusercontent.com/MiSTer-devel/Downloader_MiSTer/main/downloader.sh"

	operatorFile   = "distribution_db_operator.py"
	downloaderFile = "downloader.sh"
	downloaderINI  = "downloader.ini"

	// DBJSONName is the file the operator writes.
	DBJSONName = "db.json"
	// DBZipName is the published archive.
	DBZipName = "db.json.zip"

	// DBBranch holds a single commit with the latest archive.
	DBBranch = "db"
	// ReleasesBranch accumulates one line per published commit.
	ReleasesBranch = "db-releases"
	// ReleasesLog is the append-only log on ReleasesBranch.
	ReleasesLog = "commits.txt"

	// ExternalFilesBranch optionally carries an extra file list.
	ExternalFilesBranch = "external_repos_files"
	// PrimaryFileList is always passed to the operator.
	PrimaryFileList = "external_files.csv"
	// ExternalFileList is checked out from ExternalFilesBranch when present.
	ExternalFileList = "external_repos_files.csv"

	botEmail = "theypsilon@gmail.com"
	botName  = "The CI/CD Bot"

	cleanupCommitMessage = "BOT: Cleaning build_db.py"
	publishCommitMessage = "Creating database"

	releaseTimeLayout = "2006-01-02 15:04:05"
)

// legacyScripts are bootstrap copies of the old build script that
// downstream repositories no longer need.
var legacyScripts = []string{"build_db.py", ".github/build_db.py"}
