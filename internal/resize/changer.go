package resize

import (
	"context"
	"fmt"
)

// PolicySizeChanger stands in for the host page when the pipeline runs
// server-side: it accepts any size within the configured bounds.
type PolicySizeChanger struct {
	MaxWidth  int
	MaxHeight int
}

// RequestSizeChange accepts the change when both dimensions are positive
// and within bounds. Zero bounds are unlimited.
func (p PolicySizeChanger) RequestSizeChange(ctx context.Context, height, width int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d is empty", ErrSizeChangeDenied, width, height)
	}
	if p.MaxWidth > 0 && width > p.MaxWidth {
		return fmt.Errorf("%w: width %d exceeds %d", ErrSizeChangeDenied, width, p.MaxWidth)
	}
	if p.MaxHeight > 0 && height > p.MaxHeight {
		return fmt.Errorf("%w: height %d exceeds %d", ErrSizeChangeDenied, height, p.MaxHeight)
	}
	return nil
}

// SizeChangeFunc adapts a function to SizeChanger.
type SizeChangeFunc func(ctx context.Context, height, width int) error

func (f SizeChangeFunc) RequestSizeChange(ctx context.Context, height, width int) error {
	return f(ctx, height, width)
}
