package config

const (
	defaultDataDir             = "~/.local/share/dooriq"
	defaultLogDir              = "~/.local/share/dooriq/logs"
	defaultAPIBind             = "127.0.0.1:7911"
	defaultLLMBaseURL          = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel            = "gpt-4o-mini"
	defaultLLMTimeoutSeconds   = 30
	defaultMaxMoments          = 10
	defaultMomentTimeout       = 30
	defaultDeepGradeTimeout    = 60
	defaultDeepGradeMaxTokens  = 2000
	defaultBatchSize           = 5
	defaultWorkerConcurrency   = 3
	defaultRatePerSecond       = 10
	defaultBatchRetryLimit     = 2
	defaultBatchBackoffSeconds = 1
	defaultJobAttemptLimit     = 3
	defaultJobBackoffSeconds   = 2
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultCacheTTLHours       = 24 * 30
	defaultCacheSweepSchedule  = "@hourly"
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Grading: Grading{
			MaxMoments:           defaultMaxMoments,
			MomentTimeoutSeconds: defaultMomentTimeout,
		},
		DeepGrade: DeepGrade{
			TimeoutSeconds: defaultDeepGradeTimeout,
			MaxTokens:      defaultDeepGradeMaxTokens,
		},
		Workers: Workers{
			BatchSize:           defaultBatchSize,
			Concurrency:         defaultWorkerConcurrency,
			RatePerSecond:       defaultRatePerSecond,
			BatchRetryLimit:     defaultBatchRetryLimit,
			BatchBackoffSeconds: defaultBatchBackoffSeconds,
			JobAttemptLimit:     defaultJobAttemptLimit,
			JobBackoffSeconds:   defaultJobBackoffSeconds,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
		},
		Cache: Cache{
			Enabled:       true,
			TTLHours:      defaultCacheTTLHours,
			SweepSchedule: defaultCacheSweepSchedule,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completion:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
