package kafka

import "net"

// PreferredHosts maps each partition of a batch to the host its task should
// prefer. The consistent strategy yields no hints.
func (s *DirectStream) PreferredHosts(ranges []OffsetRange) (map[PartitionKey]string, error) {
	hosts := make(map[PartitionKey]string)
	switch s.cfg.LocationStrategy {
	case PreferFixed:
		for _, r := range ranges {
			if h, ok := s.cfg.PreferredHosts[partitionConfigKey(r.Partition)]; ok {
				hosts[r.Partition] = h
			}
		}
	case PreferBrokers:
		err := s.client.do(func(c Client) error {
			for _, r := range ranges {
				h, err := c.LeaderHost(r.Partition)
				if err != nil {
					return clientIO("leader", err)
				}
				hosts[r.Partition] = stripPort(h)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return hosts, nil
}

func stripPort(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
