package version

// Build information, overridden at link time, e.g.
// -X "github.com/kubeheal/kubeheal/pkg/version.Version=1.0.0".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the serializable view of the build information.
type Info struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
}
