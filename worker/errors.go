package worker

import (
	"fmt"

	"github.com/kaelbridge/duraq/job"
)

func newInputTypeError(input any) error {
	return job.NewPermanent(fmt.Errorf("worker: input of type %T does not match handler's expected type", input))
}
