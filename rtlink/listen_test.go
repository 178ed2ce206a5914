package rtlink

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hkwi/rtnl"
	"github.com/hkwi/rtnl/nltest"
	"github.com/hkwi/rtnl/rtcache"
	"github.com/hkwi/rtnl/rtobj"
	"golang.org/x/sys/unix"
)

var links = []rtobj.Link{
	{Index: 1, Name: "lo", Type: unix.ARPHRD_LOOPBACK, Flags: rtobj.IFF_UP | rtobj.IFF_LOOPBACK, MTU: 65536},
	{Index: 2, Name: "eth0", Type: unix.ARPHRD_ETHER, Flags: rtobj.IFF_UP, MTU: 1500},
}

func kernel(req rtnl.Message) [][]rtnl.Message {
	if req.Header.Type != unix.RTM_GETLINK {
		return [][]rtnl.Message{{nltest.Error(req, unix.EOPNOTSUPP)}}
	}
	if req.Header.Flags&unix.NLM_F_DUMP == unix.NLM_F_DUMP {
		var msgs []rtnl.Message
		for _, l := range links {
			msgs = append(msgs, nltest.Multi(req, unix.RTM_NEWLINK, l.Encode()))
		}
		return [][]rtnl.Message{append(msgs, nltest.Done(req))}
	}
	info, _ := rtnl.ParseIfInfomsg(req.Data)
	attrs, _ := rtnl.RouteLinkPolicy.Parse(req.Data[rtnl.SizeofIfInfomsg:])
	for _, l := range links {
		if name, ok := attrs.Get(rtnl.IFLA_IFNAME); (ok && name.Text() == l.Name) || int(info.Index) == l.Index {
			return [][]rtnl.Message{{nltest.Reply(req, unix.RTM_NEWLINK, 0, l.Encode())}}
		}
	}
	return [][]rtnl.Message{{nltest.Error(req, unix.ENODEV)}}
}

func session(t *testing.T) (*rtcache.Session, *nltest.Socket) {
	listen := nltest.NewSocket(11, nil)
	s := rtcache.NewSession(nltest.NewSocket(10, kernel), rtcache.DefaultConfig,
		rtcache.WithDialer(func() (rtnl.Socket, error) { return listen, nil }))
	t.Cleanup(func() { s.Close() })
	return s, listen
}

func TestListener(t *testing.T) {
	s, listen := session(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := NewListener(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if !listen.Joined(unix.RTNLGRP_LINK) {
		t.Error("link group not joined")
	}

	msgs, err := l.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, msg := range msgs {
		if msg.Op != rtobj.OpNew {
			t.Errorf("initial %v is not new", msg.Link)
		}
		names = append(names, msg.Name)
	}
	if diff := cmp.Diff([]string{"lo", "eth0"}, names); diff != "" {
		t.Errorf("initial dump (-want +got):\n%s", diff)
	}

	veth := rtobj.Link{Index: 3, Name: "veth0", Type: unix.ARPHRD_ETHER, MTU: 1500}
	listen.Inject(nltest.Notify(unix.RTM_NEWLINK, veth.Encode()))
	msgs, err = l.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Op != rtobj.OpNew || msgs[0].Index != 3 {
		t.Errorf("unexpected %v", msgs)
	}

	listen.Inject(nltest.Notify(unix.RTM_DELLINK, veth.Encode()))
	msgs, err = l.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Op != rtobj.OpDel || msgs[0].Name != "veth0" {
		t.Errorf("unexpected %v", msgs)
	}

	l.Close()
	if _, err := l.Recv(ctx); err == nil {
		t.Error("receive after close")
	}
}

func TestGetByName(t *testing.T) {
	s, _ := session(t)
	ctx := context.Background()

	link, err := GetByName(ctx, s, "eth0")
	if err != nil {
		t.Fatal(err)
	}
	if link.Index != 2 {
		t.Errorf("eth0 has index %d", link.Index)
	}
	name, err := GetNameByIndex(ctx, s, 1)
	if err != nil {
		t.Fatal(err)
	}
	if name != "lo" {
		t.Errorf("index 1 is %q", name)
	}
	if _, err := GetNameByIndex(ctx, s, 9); err == nil {
		t.Error("unknown index resolved")
	}
}
