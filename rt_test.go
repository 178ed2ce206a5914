package rtnl_test

import (
	"context"
	"log"

	"github.com/hkwi/rtnl"
	"golang.org/x/sys/unix"
)

// This basic rtnetlink example lists up link interfaces.
func Example() {
	sock, err := rtnl.NlConnect(rtnl.SockConfig{})
	if err != nil {
		panic(err)
	}
	tr := rtnl.NewTransport(sock, nil)
	defer tr.Close()

	msgs, err := tr.Execute(context.Background(), rtnl.Message{
		Header: rtnl.Header{Type: unix.RTM_GETLINK, Flags: unix.NLM_F_DUMP},
		Data:   rtnl.IfInfomsg{}.Bytes(),
	})
	if err != nil {
		panic(err)
	}
	for _, msg := range msgs {
		switch msg.Header.Type {
		case unix.RTM_NEWLINK:
			ifinfo, err := rtnl.ParseIfInfomsg(msg.Data)
			if err != nil {
				panic(err)
			}
			if attrs, err := rtnl.RouteLinkPolicy.Parse(msg.Data[rtnl.NLMSG_ALIGN(rtnl.SizeofIfInfomsg):]); err != nil {
				panic(err)
			} else {
				log.Print("ifinfomsg=", ifinfo, " attrs=", rtnl.RouteLinkPolicy.Dump(attrs))
			}
		default:
			log.Print("unhandled msg", msg.Header)
		}
	}
}

// This is RTNLGRP_LINK listener example. RTNLGRP_LINK is newer version of RTMGRP_LINK.
func ExampleTransport_Subscribe() {
	sock, err := rtnl.NlConnect(rtnl.SockConfig{})
	if err != nil {
		panic(err)
	}
	tr := rtnl.NewTransport(sock, nil)
	defer tr.Close()

	if err := tr.Subscribe(unix.RTNLGRP_LINK); err != nil {
		panic(err)
	}
	for {
		frame, err := tr.Receive(context.Background())
		if err != nil {
			panic(err)
		}
		switch frame.Message.Header.Type {
		case unix.RTM_NEWLINK, unix.RTM_DELLINK:
			ifinfo, _ := rtnl.ParseIfInfomsg(frame.Message.Data)
			if attrs, err := rtnl.RouteLinkPolicy.Parse(frame.Message.Data[rtnl.NLMSG_ALIGN(rtnl.SizeofIfInfomsg):]); err != nil {
				log.Print(err)
			} else {
				log.Print("ifinfomsg=", ifinfo, " attrs=", rtnl.RouteLinkPolicy.Dump(attrs))
			}
		default:
			log.Print("unhandled msg")
		}
	}
}
