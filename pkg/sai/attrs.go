package sai

// Attribute names and enum values written by the orchestrators.
const (
	SwitchAttrInitSwitch      = "SAI_SWITCH_ATTR_INIT_SWITCH"
	SwitchAttrSrcMAC          = "SAI_SWITCH_ATTR_SRC_MAC_ADDRESS"
	SwitchAttrDefaultVR       = "SAI_SWITCH_ATTR_DEFAULT_VIRTUAL_ROUTER_ID"
	SwitchAttrCPUPort         = "SAI_SWITCH_ATTR_CPU_PORT"
	VirtualRouterAttrSrcMAC   = "SAI_VIRTUAL_ROUTER_ATTR_SRC_MAC_ADDRESS"
	VirtualRouterAttrV4State  = "SAI_VIRTUAL_ROUTER_ATTR_ADMIN_V4_STATE"
	VirtualRouterAttrV6State  = "SAI_VIRTUAL_ROUTER_ATTR_ADMIN_V6_STATE"
	PortAttrType              = "SAI_PORT_ATTR_TYPE"
	PortTypeCPU               = "SAI_PORT_TYPE_CPU"
	PortTypeLogical           = "SAI_PORT_TYPE_LOGICAL"
	PortAttrLanes             = "SAI_PORT_ATTR_HW_LANE_LIST"
	PortAttrSpeed             = "SAI_PORT_ATTR_SPEED"
	PortAttrMTU               = "SAI_PORT_ATTR_MTU"
	PortAttrAdminState        = "SAI_PORT_ATTR_ADMIN_STATE"
	PortAttrPFC               = "SAI_PORT_ATTR_PRIORITY_FLOW_CONTROL"
	PortAttrDot1pToTC         = "SAI_PORT_ATTR_QOS_DOT1P_TO_TC_MAP"
	PortAttrDSCPToTC          = "SAI_PORT_ATTR_QOS_DSCP_TO_TC_MAP"
	PortAttrTCToQueue         = "SAI_PORT_ATTR_QOS_TC_TO_QUEUE_MAP"
	QueueAttrType             = "SAI_QUEUE_ATTR_TYPE"
	QueueTypeUnicast          = "SAI_QUEUE_TYPE_UNICAST"
	QueueAttrIndex            = "SAI_QUEUE_ATTR_INDEX"
	QueueAttrPort             = "SAI_QUEUE_ATTR_PORT"
	LagMemberAttrLag          = "SAI_LAG_MEMBER_ATTR_LAG_ID"
	LagMemberAttrPort         = "SAI_LAG_MEMBER_ATTR_PORT_ID"
	VlanAttrVlanID            = "SAI_VLAN_ATTR_VLAN_ID"
	VlanMemberAttrVlan        = "SAI_VLAN_MEMBER_ATTR_VLAN_ID"
	VlanMemberAttrPort        = "SAI_VLAN_MEMBER_ATTR_BRIDGE_PORT_ID"
	VlanMemberAttrTagging     = "SAI_VLAN_MEMBER_ATTR_VLAN_TAGGING_MODE"
	VlanTaggingTagged         = "SAI_VLAN_TAGGING_MODE_TAGGED"
	VlanTaggingUntagged       = "SAI_VLAN_TAGGING_MODE_UNTAGGED"
	RifAttrType               = "SAI_ROUTER_INTERFACE_ATTR_TYPE"
	RifAttrPort               = "SAI_ROUTER_INTERFACE_ATTR_PORT_ID"
	RifAttrVlan               = "SAI_ROUTER_INTERFACE_ATTR_VLAN_ID"
	RifAttrVR                 = "SAI_ROUTER_INTERFACE_ATTR_VIRTUAL_ROUTER_ID"
	RifAttrSrcMAC             = "SAI_ROUTER_INTERFACE_ATTR_SRC_MAC_ADDRESS"
	RifAttrMTU                = "SAI_ROUTER_INTERFACE_ATTR_MTU"
	RifAttrOuterVlan          = "SAI_ROUTER_INTERFACE_ATTR_OUTER_VLAN_ID"
	RifAttrV4State            = "SAI_ROUTER_INTERFACE_ATTR_ADMIN_V4_STATE"
	RifAttrV6State            = "SAI_ROUTER_INTERFACE_ATTR_ADMIN_V6_STATE"
	RifTypePort               = "SAI_ROUTER_INTERFACE_TYPE_PORT"
	RifTypeVlan               = "SAI_ROUTER_INTERFACE_TYPE_VLAN"
	RifTypeLoopback           = "SAI_ROUTER_INTERFACE_TYPE_LOOPBACK"
	RifTypeSubPort            = "SAI_ROUTER_INTERFACE_TYPE_SUB_PORT"
	NeighborAttrDstMAC        = "SAI_NEIGHBOR_ENTRY_ATTR_DST_MAC_ADDRESS"
	NextHopAttrType           = "SAI_NEXT_HOP_ATTR_TYPE"
	NextHopAttrIP             = "SAI_NEXT_HOP_ATTR_IP"
	NextHopAttrRif            = "SAI_NEXT_HOP_ATTR_ROUTER_INTERFACE_ID"
	NextHopAttrTunnel         = "SAI_NEXT_HOP_ATTR_TUNNEL_ID"
	NextHopTypeIP             = "SAI_NEXT_HOP_TYPE_IP"
	NextHopTypeTunnelEncap    = "SAI_NEXT_HOP_TYPE_TUNNEL_ENCAP"
	NextHopGroupAttrType      = "SAI_NEXT_HOP_GROUP_ATTR_TYPE"
	NextHopGroupTypeECMP      = "SAI_NEXT_HOP_GROUP_TYPE_ECMP"
	NextHopGroupMemberAttrNHG = "SAI_NEXT_HOP_GROUP_MEMBER_ATTR_NEXT_HOP_GROUP_ID"
	NextHopGroupMemberAttrNH  = "SAI_NEXT_HOP_GROUP_MEMBER_ATTR_NEXT_HOP_ID"
	RouteAttrNextHop          = "SAI_ROUTE_ENTRY_ATTR_NEXT_HOP_ID"
	RouteAttrPacketAction     = "SAI_ROUTE_ENTRY_ATTR_PACKET_ACTION"
	PacketActionForward       = "SAI_PACKET_ACTION_FORWARD"
	PacketActionDrop          = "SAI_PACKET_ACTION_DROP"
	TunnelAttrType            = "SAI_TUNNEL_ATTR_TYPE"
	TunnelTypeIPinIP          = "SAI_TUNNEL_TYPE_IPINIP"
	TunnelAttrOverlay         = "SAI_TUNNEL_ATTR_OVERLAY_INTERFACE"
	TunnelAttrUnderlay        = "SAI_TUNNEL_ATTR_UNDERLAY_INTERFACE"
	TunnelAttrDecapECN        = "SAI_TUNNEL_ATTR_DECAP_ECN_MODE"
	TunnelAttrDecapDSCP       = "SAI_TUNNEL_ATTR_DECAP_DSCP_MODE"
	TunnelAttrDecapTTL        = "SAI_TUNNEL_ATTR_DECAP_TTL_MODE"
	TunnelAttrEncapSrcIP      = "SAI_TUNNEL_ATTR_ENCAP_SRC_IP"
	TunnelAttrEncapDstIP      = "SAI_TUNNEL_ATTR_ENCAP_DST_IP"
	TunnelAttrPeerMode        = "SAI_TUNNEL_ATTR_PEER_MODE"
	TunnelAttrEncapTTL        = "SAI_TUNNEL_ATTR_ENCAP_TTL_MODE"
	TunnelAttrLoopbackAction  = "SAI_TUNNEL_ATTR_LOOPBACK_PACKET_ACTION"
	TunnelPeerModeP2P         = "SAI_TUNNEL_PEER_MODE_P2P"
	TunnelPeerModeP2MP        = "SAI_TUNNEL_PEER_MODE_P2MP"
	TunnelECNStandard         = "SAI_TUNNEL_DECAP_ECN_MODE_STANDARD"
	TunnelECNCopyFromOuter    = "SAI_TUNNEL_DECAP_ECN_MODE_COPY_FROM_OUTER"
	TunnelDSCPPipe            = "SAI_TUNNEL_DSCP_MODE_PIPE_MODEL"
	TunnelDSCPUniform         = "SAI_TUNNEL_DSCP_MODE_UNIFORM_MODEL"
	TunnelTTLPipe             = "SAI_TUNNEL_TTL_MODE_PIPE_MODEL"
	TunnelTTLUniform          = "SAI_TUNNEL_TTL_MODE_UNIFORM_MODEL"
	TermAttrVR                = "SAI_TUNNEL_TERM_TABLE_ENTRY_ATTR_VR_ID"
	TermAttrType              = "SAI_TUNNEL_TERM_TABLE_ENTRY_ATTR_TYPE"
	TermAttrTunnelType        = "SAI_TUNNEL_TERM_TABLE_ENTRY_ATTR_TUNNEL_TYPE"
	TermAttrTunnel            = "SAI_TUNNEL_TERM_TABLE_ENTRY_ATTR_ACTION_TUNNEL_ID"
	TermAttrDstIP             = "SAI_TUNNEL_TERM_TABLE_ENTRY_ATTR_DST_IP"
	TermTypeP2MP              = "SAI_TUNNEL_TERM_TABLE_ENTRY_TYPE_P2MP"
	AclTableAttrStage         = "SAI_ACL_TABLE_ATTR_ACL_STAGE"
	AclTableAttrInPorts       = "SAI_ACL_TABLE_ATTR_FIELD_IN_PORTS"
	AclTableAttrTC            = "SAI_ACL_TABLE_ATTR_FIELD_TC"
	AclStageIngress           = "SAI_ACL_STAGE_INGRESS"
	AclEntryAttrTable         = "SAI_ACL_ENTRY_ATTR_TABLE_ID"
	AclEntryAttrPriority      = "SAI_ACL_ENTRY_ATTR_PRIORITY"
	AclEntryAttrInPorts       = "SAI_ACL_ENTRY_ATTR_FIELD_IN_PORTS"
	AclEntryAttrTC            = "SAI_ACL_ENTRY_ATTR_FIELD_TC"
	AclEntryAttrAction        = "SAI_ACL_ENTRY_ATTR_ACTION_PACKET_ACTION"
	AclEntryAttrAdminState    = "SAI_ACL_ENTRY_ATTR_ADMIN_STATE"
	QosMapAttrType            = "SAI_QOS_MAP_ATTR_TYPE"
	QosMapAttrList            = "SAI_QOS_MAP_ATTR_MAP_TO_VALUE_LIST"
	QosMapTypeDot1pToTC       = "SAI_QOS_MAP_TYPE_DOT1P_TO_TC"
	QosMapTypeDSCPToTC        = "SAI_QOS_MAP_TYPE_DSCP_TO_TC"
	QosMapTypeTCToQueue       = "SAI_QOS_MAP_TYPE_TC_TO_QUEUE"
)

// NullOID is the object id meaning "no object".
const NullOID = "oid:0x0"
