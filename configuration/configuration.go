package configuration

import "time"

type Configuration struct {
	HttpAddr          string `usage:"HTTP address"`
	Dir               string `usage:"data directory"`
	EnableCompression bool   `usage:"gzip responses when the client accepts it"`

	JournalSize  int64         `usage:"journal capacity in bytes"`
	WaitForSync  bool          `usage:"sync the journal after every operation"`
	SyncInterval time.Duration `usage:"background journal sync interval, 0 disables it"`
	Compression  string        `usage:"document compression: none|snappy|zstd|lz4"`
	KeyGenerator string        `usage:"key generator: traditional|uuid"`

	LockTimeout       time.Duration `usage:"max wait for a collection lock"`
	DeadlockDetection bool          `usage:"detect deadlocks between transactions"`

	CompactionInterval  time.Duration `usage:"time between compaction passes, 0 disables them"`
	CompactionDeadRatio float64       `usage:"dead fraction that makes a datafile worth compacting"`
	CompactionMinDead   int64         `usage:"dead documents that make a datafile worth compacting"`

	LogLevel   string `usage:"log level: error|warn|info|debug"`
	Version    bool   `usage:"show version and exit"`
	ShowBanner bool   `usage:"show big banner"`
	ShowConfig bool   `usage:"print config"`
}

func Default() Configuration {
	return Configuration{
		HttpAddr:          "127.0.0.1:8529",
		Dir:               "data",
		EnableCompression: true,

		JournalSize:  32 * 1024 * 1024,
		SyncInterval: 100 * time.Millisecond,
		Compression:  "none",
		KeyGenerator: "traditional",

		LockTimeout:       15 * time.Second,
		DeadlockDetection: true,

		CompactionInterval:  10 * time.Second,
		CompactionDeadRatio: 0.1,
		CompactionMinDead:   1,

		LogLevel:   "info",
		ShowBanner: true,
	}
}
