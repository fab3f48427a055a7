package common

import (
	"errors"
	"fmt"

	"github.com/relaymeter/relaymeter/logger"
)

func NewErrorf(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	return errors.New(msg)
}

func Combine(errs ...error) error {
	var sum error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if sum == nil {
			sum = err
			continue
		}
		sum = fmt.Errorf("%v, %v", sum, err)
	}
	return sum
}

func Recover(msg string) any {
	panicErr := recover()
	if panicErr != nil {
		if msg != "" {
			logger.Error(msg, "panic:", panicErr)
		}
	}
	return panicErr
}
