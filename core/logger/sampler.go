package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// sampler lets n of every d calls through. A zero ratio lets everything through.
type sampler struct {
	ratio atomic.Uint64 // n<<32 | d
	calls atomic.Uint64
}

func newSampler(n, d int) *sampler {
	s := &sampler{}
	s.set(n, d)
	return s
}

func (s *sampler) set(n, d int) {
	if n <= 0 || d <= 0 {
		n, d = 0, 0
	}
	n = min(n, d)
	s.ratio.Store(uint64(n)<<32 | uint64(d))
	s.calls.Store(0)
}

func (s *sampler) allow() bool {
	r := s.ratio.Load()
	n, d := r>>32, r&0xffffffff
	if n == 0 || d == 0 {
		return true
	}
	return (s.calls.Add(1)-1)%d < n
}

// parseRatio reads "n/d" or a bare "d" meaning 1/d. Unparsable input and
// non-positive values yield 0/0.
func parseRatio(ratio string) (int, int) {
	ratio = strings.TrimSpace(ratio)
	if num, den, ok := strings.Cut(ratio, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return n, d
	}
	d, err := strconv.Atoi(ratio)
	if err != nil || d <= 0 {
		return 0, 0
	}
	return 1, d
}
