package indicator

// smma is Wilder's smoothed moving average: seeded with the simple average
// of the first period inputs, then avg = (avg*(period-1) + v) / period.
type smma struct {
	period  int
	count   int
	sum     int64
	current int64
}

func (s *smma) update(v int64) {
	s.count++
	if s.count <= s.period {
		s.sum += v
		if s.count == s.period {
			s.current = div(s.sum, int64(s.period))
		}
		return
	}
	p := int64(s.period)
	s.current = div(s.current*(p-1)+v, p)
}

func (s *smma) ready() bool { return s.count >= s.period }
