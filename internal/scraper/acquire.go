package scraper

import (
	"context"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
)

// ListSource returns lightweight job hits for a search. Implementations
// raise on authentication or parameter failures; there is no partial success.
type ListSource interface {
	ListJobs(ctx context.Context, credential string, opts Options) ([]map[string]any, error)
}

// DetailsSource fetches the full record for one posting URL. A nil record
// with a nil error means the item timed out or failed unrecoverably.
type DetailsSource interface {
	FetchDetails(ctx context.Context, jobURL, credential string) (map[string]any, error)
}

// Acquirer assembles raw job records from a list source and a details source.
type Acquirer struct {
	list     ListSource
	details  DetailsSource
	validate *validator.Validate
}

// NewAcquirer creates an Acquirer over the given sources.
func NewAcquirer(list ListSource, details DetailsSource) *Acquirer {
	return &Acquirer{
		list:     list,
		details:  details,
		validate: validator.New(),
	}
}

// ValidateOptions applies defaults and checks the search parameters.
func (a *Acquirer) ValidateOptions(opts *Options) error {
	if opts.MaxJobs == 0 {
		opts.MaxJobs = 20
	}
	if err := a.validate.Struct(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// RetrieveJobs runs a search and assembles full job records. Per-item detail
// failures are soft: the job is kept with whatever the list hit provided and
// an empty description. Only list-source failures abort acquisition.
// Duplicate external ids within one acquisition are collapsed, first wins.
func (a *Acquirer) RetrieveJobs(ctx context.Context, credential string, opts Options) ([]RawJobData, error) {
	if err := a.ValidateOptions(&opts); err != nil {
		return nil, err
	}

	hits, err := a.list.ListJobs(ctx, credential, opts)
	if err != nil {
		return nil, err
	}

	jobs := make([]RawJobData, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))

	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}

		jobURL := pickString(hit, urlFields)

		var details map[string]any
		if jobURL != "" && a.details != nil {
			details, err = a.details.FetchDetails(ctx, jobURL, credential)
			if err != nil {
				log.Printf("details fetch error for %s: %v", jobURL, err)
				details = nil
			}
		}

		job := Normalize(hit, details)
		if job.ExternalID == "" {
			log.Printf("dropping hit with no derivable id (title=%q)", job.Title)
			continue
		}
		if _, dup := seen[job.ExternalID]; dup {
			continue
		}
		seen[job.ExternalID] = struct{}{}
		jobs = append(jobs, job)

		if len(jobs) >= opts.MaxJobs {
			break
		}
	}

	return jobs, nil
}
