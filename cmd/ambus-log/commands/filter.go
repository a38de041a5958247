package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
// String fields hold the raw flag values; toFilter validates them.
type FilterOptions struct {
	Output    string
	SessionID string
	AdapterID string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// toFilter translates the raw flag values into a log.Filter.
func (o FilterOptions) toFilter() (log.Filter, error) {
	filter := log.Filter{
		SessionID: o.SessionID,
		AdapterID: o.AdapterID,
	}

	var err error
	if filter.TimeStart, err = parseTimeFlag("time-start", o.TimeStart); err != nil {
		return log.Filter{}, err
	}
	if filter.TimeEnd, err = parseTimeFlag("time-end", o.TimeEnd); err != nil {
		return log.Filter{}, err
	}

	if o.Layer != "" {
		l, err := parseLayer(o.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", name, err)
	}
	return &t, nil
}

// RunFilter copies the events matching opts into a new log file.
func RunFilter(path string, opts FilterOptions) error {
	filter, err := opts.toFilter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		logger.Log(event)
		count++
	}

	fmt.Printf("Filtered %d events to %s\n", count, opts.Output)
	return nil
}
