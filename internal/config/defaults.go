package config

const (
	defaultConfigPath             = "~/.config/seqwatch/config.toml"
	defaultOutputDir              = "~/.local/share/seqwatch/annotations"
	defaultStateDir               = "~/.local/share/seqwatch"
	defaultLogDir                 = "~/.local/share/seqwatch/logs"
	defaultAPIBind                = "127.0.0.1:7688"
	defaultPipelineCommand        = "seqannotate"
	defaultMaxConcurrent          = 2
	defaultPipelineTimeoutSeconds = 3600
	defaultPipelineGraceSeconds   = 10
	defaultOutputSuffix           = ".annotated.tsv"
	defaultSettleMillis           = 2000
	defaultPollSeconds            = 30
	defaultRetryInitialMillis     = 500
	defaultRetryMaxSeconds        = 30
	defaultCoverageBins           = 1000
	defaultTimeBinSeconds         = 60
	defaultLengthBinWidth         = 100
	defaultReferenceLength        = 1_000_000
	defaultNotifyRequestTimeout   = 10
	defaultLedgerFile             = "ledger.db"
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
	defaultTitle                  = "seqwatch"
)

var (
	defaultReadExtensions       = []string{".fastq", ".fq", ".fastq.gz", ".fq.gz", ".bam"}
	defaultAnnotationExtensions = []string{".tsv", ".tsv.gz"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			Command:        defaultPipelineCommand,
			MaxConcurrent:  defaultMaxConcurrent,
			TimeoutSeconds: defaultPipelineTimeoutSeconds,
			GraceSeconds:   defaultPipelineGraceSeconds,
			OutputSuffix:   defaultOutputSuffix,
		},
		Watcher: Watcher{
			SettleMillis:         defaultSettleMillis,
			PollSeconds:          defaultPollSeconds,
			Recursive:            true,
			ReadExtensions:       append([]string(nil), defaultReadExtensions...),
			AnnotationExtensions: append([]string(nil), defaultAnnotationExtensions...),
			RetryInitialMillis:   defaultRetryInitialMillis,
			RetryMaxSeconds:      defaultRetryMaxSeconds,
		},
		Aggregation: Aggregation{
			CoverageBins:           defaultCoverageBins,
			TimeBinSeconds:         defaultTimeBinSeconds,
			LengthBinWidth:         defaultLengthBinWidth,
			DefaultReferenceLength: defaultReferenceLength,
		},
		Samples: Samples{
			Title: defaultTitle,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			PipelineErrors: true,
		},
		Ledger: Ledger{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
