package ops

import (
	"slices"

	"github.com/hpungsan/gather/internal/sink"
)

// ListFilesInput contains parameters for the ListFiles operation.
type ListFilesInput struct {
	Limit  int // default: 20, max: 100
	Offset int
}

// ListFilesOutput contains the result of the ListFiles operation.
type ListFilesOutput struct {
	Dir        string      `json:"dir"`
	Items      []sink.File `json:"items"`
	Pagination Pagination  `json:"pagination"`
	Sort       string      `json:"sort"`
}

// ListFiles returns collected files, newest first.
func ListFiles(s *sink.Sink, input ListFilesInput) (*ListFilesOutput, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	slices.Reverse(files)

	limit, offset := clampPage(input.Limit, input.Offset)
	total := len(files)
	start := min(offset, total)
	end := min(start+limit, total)

	return &ListFilesOutput{
		Dir:   s.Dir(),
		Items: files[start:end],
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: end < total,
			Total:   total,
		},
		Sort: "collected_desc",
	}, nil
}
