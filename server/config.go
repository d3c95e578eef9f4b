package server

import (
	"io"
	"time"

	"oss.nandlabs.io/golly/config"
)

// LoadOptionsFromEnv builds Options for queue by reading environment
// variables, the ambient "configuration" concern spec.md leaves as a
// bare struct literal (SPEC_FULL.md §6 EXPANSION). Recognized variables,
// all optional: DURAQ_WORKER_COUNT, DURAQ_POLL_INTERVAL_MS,
// DURAQ_CLEANUP_INTERVAL_MS, DURAQ_DELETE_AFTER_COMPLETION_MS,
// DURAQ_DELETE_AFTER_FAILURE_MS, DURAQ_DELETE_AFTER_DISABLED_MS. A
// DELETE_AFTER_*_MS variable set to "-1" means never delete (nil);
// unset also means never delete; "0" means delete immediately.
func LoadOptionsFromEnv(queue string) Options {
	workerCount, _ := config.GetEnvAsInt("DURAQ_WORKER_COUNT", 1)
	pollMs, _ := config.GetEnvAsInt64("DURAQ_POLL_INTERVAL_MS", 100)
	cleanupMs, _ := config.GetEnvAsInt64("DURAQ_CLEANUP_INTERVAL_MS", 10000)

	return Options{
		Queue:                 queue,
		WorkerCount:           workerCount,
		PollInterval:          time.Duration(pollMs) * time.Millisecond,
		CleanupInterval:       time.Duration(cleanupMs) * time.Millisecond,
		DeleteAfterCompletion: envDeleteAfter("DURAQ_DELETE_AFTER_COMPLETION_MS"),
		DeleteAfterFailure:    envDeleteAfter("DURAQ_DELETE_AFTER_FAILURE_MS"),
		DeleteAfterDisabled:   envDeleteAfter("DURAQ_DELETE_AFTER_DISABLED_MS"),
	}
}

func envDeleteAfter(key string) *time.Duration {
	ms, err := config.GetEnvAsInt64(key, -1)
	if err != nil || ms < 0 {
		return nil
	}
	d := time.Duration(ms) * time.Millisecond
	return &d
}

// LoadOptionsFromProperties builds Options for queue from a
// ".properties" file. Keys are the dotted lower-case forms of
// LoadOptionsFromEnv's variables (duraq.worker.count,
// duraq.poll.interval.ms, duraq.cleanup.interval.ms and
// duraq.delete.after.{completion,failure,disabled}.ms), with the same
// defaults and the same "-1 or unset means never delete" rule.
func LoadOptionsFromProperties(r io.Reader, queue string) (Options, error) {
	props := config.NewProperties()
	if err := props.Load(r); err != nil {
		return Options{}, err
	}
	workerCount, err := props.GetAsInt("duraq.worker.count", 1)
	if err != nil {
		return Options{}, err
	}
	pollMs, err := props.GetAsInt64("duraq.poll.interval.ms", 100)
	if err != nil {
		return Options{}, err
	}
	cleanupMs, err := props.GetAsInt64("duraq.cleanup.interval.ms", 10000)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Queue:           queue,
		WorkerCount:     workerCount,
		PollInterval:    time.Duration(pollMs) * time.Millisecond,
		CleanupInterval: time.Duration(cleanupMs) * time.Millisecond,
	}
	opts.DeleteAfterCompletion, err = propertiesDeleteAfter(props, "duraq.delete.after.completion.ms")
	if err != nil {
		return Options{}, err
	}
	opts.DeleteAfterFailure, err = propertiesDeleteAfter(props, "duraq.delete.after.failure.ms")
	if err != nil {
		return Options{}, err
	}
	opts.DeleteAfterDisabled, err = propertiesDeleteAfter(props, "duraq.delete.after.disabled.ms")
	if err != nil {
		return Options{}, err
	}
	return opts, nil
}

func propertiesDeleteAfter(props *config.Properties, key string) (*time.Duration, error) {
	ms, err := props.GetAsInt64(key, -1)
	if err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, nil
	}
	d := time.Duration(ms) * time.Millisecond
	return &d, nil
}
