// Package grading parses grading command flags and launches the grading runtime.
package grading

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/platform/cmd"
	gradingserver "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/app"
	"github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/services/grading/domain"
)

// Config holds grading command configuration.
type Config struct {
	HTTPAddr              string        `env:"EXAM_OFFICE_GRADING_HTTP_ADDR" envDefault:":8095"`
	HealthPort            int           `env:"EXAM_OFFICE_GRADING_HEALTH_PORT" envDefault:"8096"`
	Store                 string        `env:"EXAM_OFFICE_GRADING_STORE" envDefault:"sqlite"`
	DBPath                string        `env:"EXAM_OFFICE_GRADING_DB_PATH" envDefault:"data/grading.db"`
	PostgresDSN           string        `env:"EXAM_OFFICE_GRADING_POSTGRES_DSN"`
	NATSURL               string        `env:"EXAM_OFFICE_GRADING_NATS_URL"`
	NATSSubject           string        `env:"EXAM_OFFICE_GRADING_NATS_SUBJECT" envDefault:"grading.script.finalized"`
	PolicyFile            string        `env:"EXAM_OFFICE_GRADING_POLICY_FILE"`
	DefaultThreshold      float64       `env:"EXAM_OFFICE_GRADING_DEFAULT_THRESHOLD" envDefault:"10"`
	DefaultMarkMin        float64       `env:"EXAM_OFFICE_GRADING_DEFAULT_MARK_MIN" envDefault:"0"`
	DefaultMarkMax        float64       `env:"EXAM_OFFICE_GRADING_DEFAULT_MARK_MAX" envDefault:"100"`
	DefaultTieBreak       string        `env:"EXAM_OFFICE_GRADING_DEFAULT_TIE_BREAK_POLICY" envDefault:"ClosestPair"`
	ContentionMaxAttempts int           `env:"EXAM_OFFICE_GRADING_CONTENTION_MAX_ATTEMPTS" envDefault:"5"`
	AutoFinalize          bool          `env:"EXAM_OFFICE_GRADING_AUTO_FINALIZE" envDefault:"false"`
	PollInterval          time.Duration `env:"EXAM_OFFICE_GRADING_DISPATCH_POLL_INTERVAL" envDefault:"2s"`
	BatchSize             int           `env:"EXAM_OFFICE_GRADING_DISPATCH_BATCH_SIZE" envDefault:"50"`
	RetryBackoff          time.Duration `env:"EXAM_OFFICE_GRADING_DISPATCH_RETRY_BACKOFF" envDefault:"2s"`
	RetryMaxDelay         time.Duration `env:"EXAM_OFFICE_GRADING_DISPATCH_RETRY_MAX_DELAY" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The grading HTTP API listen address")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The grading health gRPC server port")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Storage engine: sqlite, postgres, or memory")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The grading SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "The grading PostgreSQL DSN")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL for finalized events")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject for finalized events")
	fs.StringVar(&cfg.PolicyFile, "policy-file", cfg.PolicyFile, "YAML file of exam policies registered at startup")
	fs.Float64Var(&cfg.DefaultThreshold, "default-threshold", cfg.DefaultThreshold, "Discrepancy threshold for exams without a policy")
	fs.Float64Var(&cfg.DefaultMarkMin, "default-mark-min", cfg.DefaultMarkMin, "Minimum mark for exams without a policy")
	fs.Float64Var(&cfg.DefaultMarkMax, "default-mark-max", cfg.DefaultMarkMax, "Maximum mark for exams without a policy")
	fs.StringVar(&cfg.DefaultTieBreak, "default-tie-break-policy", cfg.DefaultTieBreak, "Tie-break policy for exams without a policy")
	fs.IntVar(&cfg.ContentionMaxAttempts, "contention-max-attempts", cfg.ContentionMaxAttempts, "Attempts per command under concurrent updates")
	fs.BoolVar(&cfg.AutoFinalize, "auto-finalize", cfg.AutoFinalize, "Finalize scripts as soon as their marks allow it")
	fs.DurationVar(&cfg.PollInterval, "dispatch-poll-interval", cfg.PollInterval, "Outbox poll interval")
	fs.IntVar(&cfg.BatchSize, "dispatch-batch-size", cfg.BatchSize, "Outbox events published per pass")
	fs.DurationVar(&cfg.RetryBackoff, "dispatch-retry-backoff", cfg.RetryBackoff, "Base publish retry delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "dispatch-retry-max-delay", cfg.RetryMaxDelay, "Maximum publish retry delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPolicy builds the policy applied to exams without a registered one.
func (c Config) DefaultPolicy() (domain.ExamPolicy, error) {
	tieBreak, err := domain.ParseTieBreakPolicy(c.DefaultTieBreak)
	if err != nil {
		return domain.ExamPolicy{}, err
	}
	policy := domain.ExamPolicy{
		Threshold: c.DefaultThreshold,
		MinMark:   c.DefaultMarkMin,
		MaxMark:   c.DefaultMarkMax,
		TieBreak:  tieBreak,
	}
	if err := policy.Validate(); err != nil {
		return domain.ExamPolicy{}, fmt.Errorf("default policy: %w", err)
	}
	return policy, nil
}

// Run starts the grading runtime.
func Run(ctx context.Context, cfg Config) error {
	policy, err := cfg.DefaultPolicy()
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGrading, func(context.Context) error {
		return gradingserver.Run(ctx, gradingserver.RuntimeConfig{
			HTTPAddr:              cfg.HTTPAddr,
			HealthPort:            cfg.HealthPort,
			Store:                 cfg.Store,
			DBPath:                cfg.DBPath,
			PostgresDSN:           cfg.PostgresDSN,
			NATSURL:               cfg.NATSURL,
			NATSSubject:           cfg.NATSSubject,
			PolicyFile:            cfg.PolicyFile,
			DefaultPolicy:         policy,
			ContentionMaxAttempts: cfg.ContentionMaxAttempts,
			AutoFinalize:          cfg.AutoFinalize,
			Dispatch: gradingserver.DispatcherConfig{
				PollInterval:  cfg.PollInterval,
				BatchSize:     cfg.BatchSize,
				RetryBackoff:  cfg.RetryBackoff,
				RetryMaxDelay: cfg.RetryMaxDelay,
			},
		})
	})
}
