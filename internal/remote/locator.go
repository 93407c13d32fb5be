package remote

// ManifestFilename is the well-known key of the sound manifest.
const ManifestFilename = "sound-def.json"

// DevPrefix is prepended to every key in non-production configurations.
const DevPrefix = "dev/"

// Key addresses one object in the remote store.
type Key struct {
	Bucket string
	Name   string
}

func (k Key) String() string { return k.Bucket + "/" + k.Name }

// Locator maps sound filenames to remote keys. It does no I/O.
type Locator struct {
	Bucket string
	Prefix string
}

func NewLocator(bucket string, dev bool) Locator {
	l := Locator{Bucket: bucket}
	if dev {
		l.Prefix = DevPrefix
	}
	return l
}

func (l Locator) Locate(filename string) Key {
	return Key{Bucket: l.Bucket, Name: l.Prefix + filename}
}

func (l Locator) Manifest() Key {
	return l.Locate(ManifestFilename)
}
