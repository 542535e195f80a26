package detector

import "fmt"

// List mode UDP endpoint layout on the detector side.
const (
	listIPPrefix   = "192.168.0."
	listBaseIP     = 65
	listIPStep     = 4
	listBasePort   = 30125
	listMaxPort    = 30134
	listPortsPerIP = 10
)

// ReceiverEndpoint is one receiver's UDP source address and port set.
type ReceiverEndpoint struct {
	IP    string
	Ports []int
}

// ListModeIPPortGen assigns perProcess consecutive ports to each of processes
// receivers. Ports wrap every ten, at which point the IP advances by four.
// perProcess must divide ten.
func ListModeIPPortGen(perProcess, processes int) ([]ReceiverEndpoint, error) {
	if perProcess <= 0 || listPortsPerIP%perProcess != 0 {
		return nil, fmt.Errorf("%w: ports per process %d must be a factor of %d", ErrInvalidArgument, perProcess, listPortsPerIP)
	}
	out := make([]ReceiverEndpoint, 0, max(processes, 0))
	ip, count := listBaseIP, 0
	for p := 0; p < processes; p++ {
		ports := make([]int, perProcess)
		for i := range ports {
			ports[i] = listBasePort + count
			count++
		}
		out = append(out, ReceiverEndpoint{IP: fmt.Sprintf("%s%d", listIPPrefix, ip), Ports: ports})
		if count >= listPortsPerIP {
			ip += listIPStep
		}
		count %= listPortsPerIP
	}
	return out, nil
}

// ConfigForSingleProcess lets one receiver accept every port from any source.
func ConfigForSingleProcess() ReceiverEndpoint {
	ports := make([]int, 0, listMaxPort-listBasePort+1)
	for p := listBasePort; p <= listMaxPort; p++ {
		ports = append(ports, p)
	}
	return ReceiverEndpoint{IP: "0.0.0.0", Ports: ports}
}

func nearestMultOf5Up(x int) int {
	return (x + 4) / 5 * 5
}
