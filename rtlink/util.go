// rtlink provides RTM_*LINK util

package rtlink

import (
	"context"

	"github.com/hkwi/rtnl/rtcache"
	"github.com/hkwi/rtnl/rtobj"
)

// GetByName answers from the cache of s, asking the kernel on a miss.
func GetByName(ctx context.Context, s *rtcache.Session, name string) (rtobj.Link, error) {
	if link, err := s.Query().LinkByName(name); err == nil {
		return link, nil
	}
	return s.GetLink(ctx, 0, name)
}

func GetNameByIndex(ctx context.Context, s *rtcache.Session, index int) (string, error) {
	if link, err := s.Query().LinkByIndex(index); err == nil {
		return link.Name, nil
	} else if link, err := s.GetLink(ctx, index, ""); err != nil {
		return "", err
	} else {
		return link.Name, nil
	}
}
