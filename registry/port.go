package registry

import (
	"fmt"
	"net"

	"github.com/skiff-cd/skiff/domain"
)

// maxPortProbes bounds how many consecutive candidates are tried.
const maxPortProbes = 100

// AllocatePort picks the next free port for a project. The starting candidate
// is one above the highest port already assigned in the registry, or one above
// the configured base when nothing is assigned yet. Each candidate is probed
// by actually binding a loopback socket, so the returned port is never one
// that something else holds at call time.
func (s *service) AllocatePort() (int, error) {
	projects, err := s.projects.List()
	if err != nil {
		return 0, err
	}

	candidate := s.config.BasePort + 1
	assigned := map[int]bool{}
	for _, p := range projects {
		if p.Port == nil {
			continue
		}
		assigned[*p.Port] = true
		if *p.Port+1 > candidate {
			candidate = *p.Port + 1
		}
	}

	for i := 0; i < maxPortProbes; i++ {
		port := candidate + i
		if assigned[port] {
			continue
		}
		if portFree(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in [%d, %d]",
		domain.ErrPortExhausted, candidate, candidate+maxPortProbes-1)
}

func portFree(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
