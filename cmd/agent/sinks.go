package main

import (
	"errors"

	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/sim/agent"
)

// multiSink fans timeline entries out to every configured sink. A failing
// sink does not keep the others from recording.
type multiSink []agent.TimelineSink

func (m multiSink) Record(env protocol.Envelope) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
