package discovery

import (
	"errors"
	"net"
	"net/netip"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

const ServiceType = "_countersync._tcp"

var errNoAddress = errors.New("no usable local address")

// newService describes the monitor endpoint listening on listenAddr. An
// unspecified listen host is advertised with all non-loopback interface
// addresses.
func newService(instance, listenAddr string) (*mdns.MDNSService, error) {
	ap, err := netip.ParseAddrPort(listenAddr)
	if err != nil {
		host, port, serr := net.SplitHostPort(listenAddr)
		if serr != nil {
			return nil, serr
		}
		if host != "" {
			return nil, err
		}
		ap, err = netip.ParseAddrPort(net.JoinHostPort("0.0.0.0", port))
		if err != nil {
			return nil, err
		}
	}
	var ips []net.IP
	if ap.Addr().IsUnspecified() {
		ips, err = localIPs()
		if err != nil {
			return nil, err
		}
	} else {
		ips = []net.IP{ap.Addr().AsSlice()}
	}
	return mdns.NewMDNSService(
		instance,
		ServiceType,
		"",
		"",
		int(ap.Port()),
		ips,
		[]string{"path=/status", "metrics=/metrics"},
	)
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP)
		}
	}
	if len(ips) == 0 {
		return nil, errNoAddress
	}
	return ips, nil
}

// Advertise announces the monitor endpoint until the returned server is shut
// down.
func Advertise(log *zap.Logger, instance, listenAddr string) (*mdns.Server, error) {
	service, err := newService(instance, listenAddr)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, err
	}
	log.Info("advertising monitor",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", service.Port),
	)
	return server, nil
}
