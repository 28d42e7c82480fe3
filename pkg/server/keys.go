package server

import (
	"errors"

	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/rsakey"
	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
)

// handleSum feeds one sum into the accumulator and, when the phase completes,
// generates or recovers the group key.
func (s *Server) handleSum(m wire.Sum) error {
	total, done, err := s.acc.Contribute(m.Pipeline, m.Group, m.Sum, m.Pair)
	s.stats.openPhases.Set(float64(s.acc.Open()))
	if err != nil {
		if errors.Is(err, share.ErrProtocolDesync) {
			s.stats.desyncs.Inc()
		}
		return err
	}
	if !done {
		return nil
	}

	switch m.Pipeline {
	case share.Recover:
		err = s.recoverKey(m.Group, total)
	default:
		err = s.generateKey(m.Group, total)
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	s.stats.keys.WithLabelValues(m.Pipeline.String(), outcome).Inc()
	return err
}

func (s *Server) generateKey(group string, total share.Pair) error {
	log := s.log.With().Str("group", group).Logger()
	key, err := rsakey.Generate(s.cfg.pool, total[0], total[1])
	if err != nil {
		s.Notify(group, NoticeGenerateFailed)
		return err
	}
	if err := s.store.Put([]byte(key.NHex()), group, fragment.TypeN); err != nil {
		s.Notify(group, NoticeGenerateFailed)
		return err
	}
	for i, chunk := range key.DChunks() {
		if err := s.store.Put([]byte(chunk), group, fragment.PrivateType(i)); err != nil {
			s.Notify(group, NoticeGenerateFailed)
			return err
		}
	}
	log.Info().Int("bits", key.N.BitLen()).Msg("group key generated")
	s.Notify(group, NoticeGenerated)
	return nil
}

// recoverKey rebuilds the key and rewrites the fragments, but only once the
// recomputed modulus matches what survives in storage.
func (s *Server) recoverKey(group string, total share.Pair) error {
	log := s.log.With().Str("group", group).Logger()
	key, err := rsakey.Generate(s.cfg.pool, total[0], total[1])
	if err != nil {
		s.Notify(group, NoticeRecoverFailed)
		return err
	}
	if err := s.store.Recover([]byte(key.NHex()), group, fragment.TypeN); err != nil {
		log.Info().Err(err).Msg("recovered modulus rejected")
		s.Notify(group, NoticeRecoverFailed)
		return err
	}
	for i, chunk := range key.DChunks() {
		if err := s.store.Recover([]byte(chunk), group, fragment.PrivateType(i)); err != nil {
			s.Notify(group, NoticeRecoverFailed)
			return err
		}
	}
	log.Info().Msg("group key recovered")
	s.Notify(group, NoticeRecovered)
	return nil
}
