package rtnl

const (
	IFLA_UNSPEC = iota
	IFLA_ADDRESS
	IFLA_BROADCAST
	IFLA_IFNAME
	IFLA_MTU
	IFLA_LINK // used with 8021q, for example
	IFLA_QDISC
	IFLA_STATS
	IFLA_COST
	IFLA_PRIORITY
	IFLA_MASTER
	IFLA_WIRELESS
	IFLA_PROTINFO
	IFLA_TXQLEN
	IFLA_MAP
	IFLA_WEIGHT
	IFLA_OPERSTATE
	IFLA_LINKMODE
	IFLA_LINKINFO
	IFLA_NET_NS_PID
	IFLA_IFALIAS
	IFLA_NUM_VF
	IFLA_VFINFO_LIST
	IFLA_STATS64
	IFLA_VF_PORTS
	IFLA_PORT_SELF
	IFLA_AF_SPEC
	IFLA_GROUP
	IFLA_NET_NS_FD
	IFLA_EXT_MASK
	IFLA_PROMISCUITY
	IFLA_NUM_TX_QUEUES
	IFLA_NUM_RX_QUEUES
	IFLA_CARRIER
	IFLA_PHYS_PORT_ID
	IFLA_CARRIER_CHANGES
)

const (
	IFLA_INFO_UNSPEC = iota
	IFLA_INFO_KIND
	IFLA_INFO_DATA
	IFLA_INFO_XSTATS
	IFLA_INFO_SLAVE_KIND
	IFLA_INFO_SLAVE_DATA
)

const (
	IFA_UNSPEC = iota
	IFA_ADDRESS
	IFA_LOCAL
	IFA_LABEL
	IFA_BROADCAST
	IFA_ANYCAST
	IFA_CACHEINFO
	IFA_MULTICAST
	IFA_FLAGS
	IFA_RT_PRIORITY
	IFA_TARGET_NETNSID
	IFA_PROTO
)

const (
	RTA_UNSPEC = iota
	RTA_DST
	RTA_SRC
	RTA_IIF
	RTA_OIF
	RTA_GATEWAY
	RTA_PRIORITY
	RTA_PREFSRC
	RTA_METRICS
	RTA_MULTIPATH
	RTA_PROTOINFO // no longer used
	RTA_FLOW
	RTA_CACHEINFO
	RTA_SESSION // no longer used
	RTA_MP_ALGO // no longer used
	RTA_TABLE
	RTA_MARK
	RTA_MFC_STATS
	RTA_VIA
	RTA_NEWDST
	RTA_PREF
	RTA_ENCAP_TYPE
	RTA_ENCAP
	RTA_EXPIRES
	RTA_PAD
	RTA_UID
	RTA_TTL_PROPAGATE
	RTA_IP_PROTO
	RTA_SPORT
	RTA_DPORT
	RTA_NH_ID
)

const (
	RTAX_UNSPEC = iota
	RTAX_LOCK
	RTAX_MTU
	RTAX_WINDOW
	RTAX_RTT
	RTAX_RTTVAR
	RTAX_SSTHRESH
	RTAX_CWND
	RTAX_ADVMSS
	RTAX_REORDERING
	RTAX_HOPLIMIT
	RTAX_INITCWND
	RTAX_FEATURES
	RTAX_RTO_MIN
	RTAX_INITRWND
	RTAX_QUICKACK
	RTAX_CC_ALGO
	RTAX_FASTOPEN_NO_COOKIE
)

const (
	NDA_UNSPEC = iota
	NDA_DST
	NDA_LLADDR
	NDA_CACHEINFO
	NDA_PROBES
	NDA_VLAN
	NDA_PORT
	NDA_VNI
	NDA_IFINDEX
	NDA_MASTER
	NDA_LINK_NETNSID
	NDA_SRC_VNI
	NDA_PROTOCOL
)

var IFLA_itoa = map[uint16]string{
	IFLA_ADDRESS:         "ADDRESS",
	IFLA_BROADCAST:       "BROADCAST",
	IFLA_IFNAME:          "IFNAME",
	IFLA_MTU:             "MTU",
	IFLA_LINK:            "LINK",
	IFLA_QDISC:           "QDISC",
	IFLA_STATS:           "STATS",
	IFLA_MASTER:          "MASTER",
	IFLA_PROTINFO:        "PROTINFO",
	IFLA_TXQLEN:          "TXQLEN",
	IFLA_MAP:             "MAP",
	IFLA_OPERSTATE:       "OPERSTATE",
	IFLA_LINKMODE:        "LINKMODE",
	IFLA_LINKINFO:        "LINKINFO",
	IFLA_IFALIAS:         "IFALIAS",
	IFLA_NUM_VF:          "NUM_VF",
	IFLA_STATS64:         "STATS64",
	IFLA_AF_SPEC:         "AF_SPEC",
	IFLA_GROUP:           "GROUP",
	IFLA_PROMISCUITY:     "PROMISCUITY",
	IFLA_NUM_TX_QUEUES:   "NUM_TX_QUEUES",
	IFLA_NUM_RX_QUEUES:   "NUM_RX_QUEUES",
	IFLA_CARRIER:         "CARRIER",
	IFLA_PHYS_PORT_ID:    "PHYS_PORT_ID",
	IFLA_CARRIER_CHANGES: "CARRIER_CHANGES",
}

var IFLA_INFO_itoa = map[uint16]string{
	IFLA_INFO_KIND:       "KIND",
	IFLA_INFO_DATA:       "DATA",
	IFLA_INFO_XSTATS:     "XSTATS",
	IFLA_INFO_SLAVE_KIND: "SLAVE_KIND",
	IFLA_INFO_SLAVE_DATA: "SLAVE_DATA",
}

var IFA_itoa = map[uint16]string{
	IFA_ADDRESS:     "ADDRESS",
	IFA_LOCAL:       "LOCAL",
	IFA_LABEL:       "LABEL",
	IFA_BROADCAST:   "BROADCAST",
	IFA_ANYCAST:     "ANYCAST",
	IFA_CACHEINFO:   "CACHEINFO",
	IFA_MULTICAST:   "MULTICAST",
	IFA_FLAGS:       "FLAGS",
	IFA_RT_PRIORITY: "RT_PRIORITY",
	IFA_PROTO:       "PROTO",
}

var RTA_itoa = map[uint16]string{
	RTA_DST:           "DST",
	RTA_SRC:           "SRC",
	RTA_IIF:           "IIF",
	RTA_OIF:           "OIF",
	RTA_GATEWAY:       "GATEWAY",
	RTA_PRIORITY:      "PRIORITY",
	RTA_PREFSRC:       "PREFSRC",
	RTA_METRICS:       "METRICS",
	RTA_MULTIPATH:     "MULTIPATH",
	RTA_FLOW:          "FLOW",
	RTA_CACHEINFO:     "CACHEINFO",
	RTA_TABLE:         "TABLE",
	RTA_MARK:          "MARK",
	RTA_VIA:           "VIA",
	RTA_PREF:          "PREF",
	RTA_ENCAP_TYPE:    "ENCAP_TYPE",
	RTA_ENCAP:         "ENCAP",
	RTA_EXPIRES:       "EXPIRES",
	RTA_UID:           "UID",
	RTA_TTL_PROPAGATE: "TTL_PROPAGATE",
	RTA_NH_ID:         "NH_ID",
}

var RTAX_itoa = map[uint16]string{
	RTAX_LOCK:       "LOCK",
	RTAX_MTU:        "MTU",
	RTAX_WINDOW:     "WINDOW",
	RTAX_RTT:        "RTT",
	RTAX_RTTVAR:     "RTTVAR",
	RTAX_SSTHRESH:   "SSTHRESH",
	RTAX_CWND:       "CWND",
	RTAX_ADVMSS:     "ADVMSS",
	RTAX_REORDERING: "REORDERING",
	RTAX_HOPLIMIT:   "HOPLIMIT",
	RTAX_INITCWND:   "INITCWND",
	RTAX_FEATURES:   "FEATURES",
	RTAX_RTO_MIN:    "RTO_MIN",
	RTAX_INITRWND:   "INITRWND",
	RTAX_QUICKACK:   "QUICKACK",
	RTAX_CC_ALGO:    "CC_ALGO",
}

var NDA_itoa = map[uint16]string{
	NDA_DST:       "DST",
	NDA_LLADDR:    "LLADDR",
	NDA_CACHEINFO: "CACHEINFO",
	NDA_PROBES:    "PROBES",
	NDA_VLAN:      "VLAN",
	NDA_PORT:      "PORT",
	NDA_VNI:       "VNI",
	NDA_IFINDEX:   "IFINDEX",
	NDA_MASTER:    "MASTER",
	NDA_PROTOCOL:  "PROTOCOL",
}

var RouteLinkPolicy MapPolicy = MapPolicy{
	Prefix: "IFLA",
	Names:  IFLA_itoa,
	Rule: map[uint16]Policy{
		IFLA_IFNAME:    NLA_STRING,
		IFLA_ADDRESS:   NLA_BINARY,
		IFLA_BROADCAST: NLA_BINARY,
		IFLA_MAP:       NLA_BINARY,
		IFLA_MTU:       NLA_U32,
		IFLA_LINK:      NLA_U32,
		IFLA_MASTER:    NLA_U32,
		IFLA_CARRIER:   NLA_U8,
		IFLA_TXQLEN:    NLA_U32,
		IFLA_OPERSTATE: NLA_U8,
		IFLA_LINKMODE:  NLA_U8,
		IFLA_LINKINFO: MapPolicy{
			Prefix: "IFLA_INFO",
			Names:  IFLA_INFO_itoa,
			Rule: map[uint16]Policy{
				IFLA_INFO_KIND:       NLA_STRING,
				IFLA_INFO_DATA:       NLA_NESTED, // depends on the kind
				IFLA_INFO_SLAVE_KIND: NLA_STRING,
				IFLA_INFO_SLAVE_DATA: NLA_NESTED, // depends on the kind
			},
		},
		IFLA_IFALIAS:         NLA_STRING,
		IFLA_AF_SPEC:         NLA_NESTED, // depends on the family
		IFLA_GROUP:           NLA_U32,
		IFLA_PROMISCUITY:     NLA_U32,
		IFLA_NUM_TX_QUEUES:   NLA_U32,
		IFLA_NUM_RX_QUEUES:   NLA_U32,
		IFLA_PHYS_PORT_ID:    NLA_BINARY,
		IFLA_CARRIER_CHANGES: NLA_U32,
		IFLA_QDISC:           NLA_STRING,
		IFLA_STATS:           NLA_BINARY, // struct rtnl_link_stats
		IFLA_STATS64:         NLA_BINARY, // struct rtnl_link_stats64
		IFLA_NUM_VF:          NLA_U32,
	},
}

var AddrPolicy MapPolicy = MapPolicy{
	Prefix: "IFA",
	Names:  IFA_itoa,
	Rule: map[uint16]Policy{
		IFA_ADDRESS:     NLA_BINARY,
		IFA_LOCAL:       NLA_BINARY,
		IFA_LABEL:       NLA_STRING,
		IFA_BROADCAST:   NLA_BINARY,
		IFA_ANYCAST:     NLA_BINARY,
		IFA_MULTICAST:   NLA_BINARY,
		IFA_CACHEINFO:   NLA_BINARY, // struct ifa_cacheinfo
		IFA_FLAGS:       NLA_U32,
		IFA_RT_PRIORITY: NLA_U32,
		IFA_PROTO:       NLA_U8,
	},
}

var RoutePolicy MapPolicy = MapPolicy{
	Prefix: "RTA",
	Names:  RTA_itoa,
	Rule: map[uint16]Policy{
		RTA_DST:      NLA_BINARY,
		RTA_SRC:      NLA_BINARY,
		RTA_IIF:      NLA_U32,
		RTA_OIF:      NLA_U32,
		RTA_GATEWAY:  NLA_BINARY,
		RTA_PRIORITY: NLA_U32,
		RTA_PREFSRC:  NLA_BINARY,
		RTA_METRICS: MapPolicy{
			Prefix: "RTAX",
			Names:  RTAX_itoa,
			Rule: map[uint16]Policy{
				RTAX_LOCK:       NLA_U32,
				RTAX_MTU:        NLA_U32,
				RTAX_WINDOW:     NLA_U32,
				RTAX_RTT:        NLA_U32,
				RTAX_RTTVAR:     NLA_U32,
				RTAX_SSTHRESH:   NLA_U32,
				RTAX_CWND:       NLA_U32,
				RTAX_ADVMSS:     NLA_U32,
				RTAX_REORDERING: NLA_U32,
				RTAX_HOPLIMIT:   NLA_U32,
				RTAX_INITCWND:   NLA_U32,
				RTAX_FEATURES:   NLA_U32,
				RTAX_RTO_MIN:    NLA_U32,
				RTAX_INITRWND:   NLA_U32,
				RTAX_QUICKACK:   NLA_U32,
				RTAX_CC_ALGO:    NLA_STRING,
			},
		},
		RTA_MULTIPATH:     NLA_BINARY, // struct rtnexthop array
		RTA_FLOW:          NLA_U32,
		RTA_CACHEINFO:     NLA_BINARY, // struct rta_cacheinfo
		RTA_TABLE:         NLA_U32,
		RTA_MARK:          NLA_U32,
		RTA_VIA:           NLA_BINARY,
		RTA_PREF:          NLA_U8,
		RTA_ENCAP_TYPE:    NLA_U16,
		RTA_ENCAP:         NLA_BINARY, // depends on the encap type
		RTA_UID:           NLA_U32,
		RTA_TTL_PROPAGATE: NLA_U8,
		RTA_NH_ID:         NLA_U32,
	},
}

var NeighPolicy MapPolicy = MapPolicy{
	Prefix: "NDA",
	Names:  NDA_itoa,
	Rule: map[uint16]Policy{
		NDA_DST:       NLA_BINARY,
		NDA_LLADDR:    NLA_BINARY,
		NDA_CACHEINFO: NLA_BINARY, // struct nda_cacheinfo
		NDA_PROBES:    NLA_U32,
		NDA_VLAN:      NLA_U16,
		NDA_PORT:      NLA_U16, // network byte order
		NDA_VNI:       NLA_U32,
		NDA_IFINDEX:   NLA_U32,
		NDA_MASTER:    NLA_U32,
		NDA_PROTOCOL:  NLA_U8,
	},
}
