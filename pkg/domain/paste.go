package domain

const (
	filePrefix = "file_"
	// UploadLogKey holds the append-only upload log; its write generation is
	// the all-time upload count.
	UploadLogKey = "_upload_metrics"
	// GetTag is the surrogate tag attached to every edge cache entry written
	// by the retrieval path.
	GetTag = "get"
)

func FileKey(id string) string {
	return filePrefix + id
}

type Tier string

const (
	TierEdge   Tier = "edge"
	TierOrigin Tier = "origin"
)

type UploadParams struct {
	// Body is nil when the request carried no body at all.
	Body     []byte
	Host     string
	Filename string
}

type Upload struct {
	ID       string
	Key      string
	CID      string
	Location string
	Created  bool
}

type Retrieved struct {
	ID   string
	Data []byte
	Tier Tier
}
