package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
)

const (
	orderingParam = "ordering"
	maxLimit      = 100
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// decimalParam parses an optional decimal query param.
func decimalParam(ctx echo.Context, name string) (*decimal.Decimal, error) {
	val := strings.TrimSpace(ctx.QueryParam(name))
	if val == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return nil, core.NewValidationError(errors.Wrap(err, name), core.FieldError{Field: name, Error: "must be a number"})
	}
	return &d, nil
}

// limitParam parses the "limit" query param: 0 when absent, capped to maxLimit.
func limitParam(ctx echo.Context) int {
	n, err := strconv.Atoi(ctx.QueryParam("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// bind decodes the body into data; decoding errors are reported as validation errors.
func bind(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		if herr, ok := err.(*echo.HTTPError); ok {
			return core.NewValidationError(errors.Errorf("%v", herr.Message))
		}
		return errors.Wrap(err, "binding request")
	}
	return nil
}
