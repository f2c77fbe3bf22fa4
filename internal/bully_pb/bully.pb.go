// Package bully_pb carries the wire types and gRPC service for the bully
// cluster protocol. The messages are small and stable, so the package is
// maintained by hand against bully.proto rather than regenerated; keep the
// two in sync when extending the protocol.
package bully_pb

import (
	"context"

	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc"
)

type ElectionRequest struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
	// Round is an opaque token identifying the sender's election round. It is
	// echoed in logs only and never interpreted by the receiver.
	Round string `protobuf:"bytes,2,opt,name=round,proto3" json:"round,omitempty"`
}

func (m *ElectionRequest) Reset()         { *m = ElectionRequest{} }
func (m *ElectionRequest) String() string { return proto.CompactTextString(m) }
func (*ElectionRequest) ProtoMessage()    {}

type ElectionReply struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
	// Surrender is set when the replying node outranks the election sender.
	Surrender bool `protobuf:"varint,2,opt,name=surrender,proto3" json:"surrender,omitempty"`
}

func (m *ElectionReply) Reset()         { *m = ElectionReply{} }
func (m *ElectionReply) String() string { return proto.CompactTextString(m) }
func (*ElectionReply) ProtoMessage()    {}

type VictoryRequest struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
}

func (m *VictoryRequest) Reset()         { *m = VictoryRequest{} }
func (m *VictoryRequest) String() string { return proto.CompactTextString(m) }
func (*VictoryRequest) ProtoMessage()    {}

type VictoryReply struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
}

func (m *VictoryReply) Reset()         { *m = VictoryReply{} }
func (m *VictoryReply) String() string { return proto.CompactTextString(m) }
func (*VictoryReply) ProtoMessage()    {}

type HeartbeatRequest struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
}

func (m *HeartbeatRequest) Reset()         { *m = HeartbeatRequest{} }
func (m *HeartbeatRequest) String() string { return proto.CompactTextString(m) }
func (*HeartbeatRequest) ProtoMessage()    {}

type HeartbeatReply struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
}

func (m *HeartbeatReply) Reset()         { *m = HeartbeatReply{} }
func (m *HeartbeatReply) String() string { return proto.CompactTextString(m) }
func (*HeartbeatReply) ProtoMessage()    {}

type ColorRequest struct {
	SenderId int32  `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
	Color    string `protobuf:"bytes,2,opt,name=color,proto3" json:"color,omitempty"`
}

func (m *ColorRequest) Reset()         { *m = ColorRequest{} }
func (m *ColorRequest) String() string { return proto.CompactTextString(m) }
func (*ColorRequest) ProtoMessage()    {}

type ColorReply struct {
	SenderId int32 `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
	// Color the receiver actually applied.
	Color string `protobuf:"bytes,2,opt,name=color,proto3" json:"color,omitempty"`
}

func (m *ColorReply) Reset()         { *m = ColorReply{} }
func (m *ColorReply) String() string { return proto.CompactTextString(m) }
func (*ColorReply) ProtoMessage()    {}

type StatusRequest struct {
}

func (m *StatusRequest) Reset()         { *m = StatusRequest{} }
func (m *StatusRequest) String() string { return proto.CompactTextString(m) }
func (*StatusRequest) ProtoMessage()    {}

type PeerStatus struct {
	Id             int32  `protobuf:"varint,1,opt,name=id,proto3" json:"id,omitempty"`
	Address        string `protobuf:"bytes,2,opt,name=address,proto3" json:"address,omitempty"`
	Alive          bool   `protobuf:"varint,3,opt,name=alive,proto3" json:"alive,omitempty"`
	Color          string `protobuf:"bytes,4,opt,name=color,proto3" json:"color,omitempty"`
	LastSeenUnixMs int64  `protobuf:"varint,5,opt,name=last_seen_unix_ms,json=lastSeenUnixMs,proto3" json:"last_seen_unix_ms,omitempty"`
}

func (m *PeerStatus) Reset()         { *m = PeerStatus{} }
func (m *PeerStatus) String() string { return proto.CompactTextString(m) }
func (*PeerStatus) ProtoMessage()    {}

type StatusReply struct {
	SenderId int32         `protobuf:"varint,1,opt,name=sender_id,json=senderId,proto3" json:"sender_id,omitempty"`
	State    string        `protobuf:"bytes,2,opt,name=state,proto3" json:"state,omitempty"`
	MasterId int32         `protobuf:"varint,3,opt,name=master_id,json=masterId,proto3" json:"master_id,omitempty"`
	Color    string        `protobuf:"bytes,4,opt,name=color,proto3" json:"color,omitempty"`
	Peers    []*PeerStatus `protobuf:"bytes,5,rep,name=peers,proto3" json:"peers,omitempty"`
}

func (m *StatusReply) Reset()         { *m = StatusReply{} }
func (m *StatusReply) String() string { return proto.CompactTextString(m) }
func (*StatusReply) ProtoMessage()    {}

func init() {
	proto.RegisterType((*ElectionRequest)(nil), "bully_pb.ElectionRequest")
	proto.RegisterType((*ElectionReply)(nil), "bully_pb.ElectionReply")
	proto.RegisterType((*VictoryRequest)(nil), "bully_pb.VictoryRequest")
	proto.RegisterType((*VictoryReply)(nil), "bully_pb.VictoryReply")
	proto.RegisterType((*HeartbeatRequest)(nil), "bully_pb.HeartbeatRequest")
	proto.RegisterType((*HeartbeatReply)(nil), "bully_pb.HeartbeatReply")
	proto.RegisterType((*ColorRequest)(nil), "bully_pb.ColorRequest")
	proto.RegisterType((*ColorReply)(nil), "bully_pb.ColorReply")
	proto.RegisterType((*StatusRequest)(nil), "bully_pb.StatusRequest")
	proto.RegisterType((*PeerStatus)(nil), "bully_pb.PeerStatus")
	proto.RegisterType((*StatusReply)(nil), "bully_pb.StatusReply")
}

// BullyServiceClient is the client API for BullyService.
type BullyServiceClient interface {
	Election(ctx context.Context, in *ElectionRequest, opts ...grpc.CallOption) (*ElectionReply, error)
	Victory(ctx context.Context, in *VictoryRequest, opts ...grpc.CallOption) (*VictoryReply, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatReply, error)
	Color(ctx context.Context, in *ColorRequest, opts ...grpc.CallOption) (*ColorReply, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusReply, error)
}

type bullyServiceClient struct {
	cc *grpc.ClientConn
}

func NewBullyServiceClient(cc *grpc.ClientConn) BullyServiceClient {
	return &bullyServiceClient{cc}
}

func (c *bullyServiceClient) Election(ctx context.Context, in *ElectionRequest, opts ...grpc.CallOption) (*ElectionReply, error) {
	out := new(ElectionReply)
	err := c.cc.Invoke(ctx, "/bully_pb.BullyService/Election", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bullyServiceClient) Victory(ctx context.Context, in *VictoryRequest, opts ...grpc.CallOption) (*VictoryReply, error) {
	out := new(VictoryReply)
	err := c.cc.Invoke(ctx, "/bully_pb.BullyService/Victory", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bullyServiceClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatReply, error) {
	out := new(HeartbeatReply)
	err := c.cc.Invoke(ctx, "/bully_pb.BullyService/Heartbeat", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bullyServiceClient) Color(ctx context.Context, in *ColorRequest, opts ...grpc.CallOption) (*ColorReply, error) {
	out := new(ColorReply)
	err := c.cc.Invoke(ctx, "/bully_pb.BullyService/Color", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bullyServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusReply, error) {
	out := new(StatusReply)
	err := c.cc.Invoke(ctx, "/bully_pb.BullyService/Status", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BullyServiceServer is the server API for BullyService.
type BullyServiceServer interface {
	Election(context.Context, *ElectionRequest) (*ElectionReply, error)
	Victory(context.Context, *VictoryRequest) (*VictoryReply, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatReply, error)
	Color(context.Context, *ColorRequest) (*ColorReply, error)
	Status(context.Context, *StatusRequest) (*StatusReply, error)
}

func RegisterBullyServiceServer(s *grpc.Server, srv BullyServiceServer) {
	s.RegisterService(&_BullyService_serviceDesc, srv)
}

func _BullyService_Election_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ElectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BullyServiceServer).Election(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/bully_pb.BullyService/Election",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BullyServiceServer).Election(ctx, req.(*ElectionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BullyService_Victory_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(VictoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BullyServiceServer).Victory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/bully_pb.BullyService/Victory",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BullyServiceServer).Victory(ctx, req.(*VictoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BullyService_Heartbeat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BullyServiceServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/bully_pb.BullyService/Heartbeat",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BullyServiceServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BullyService_Color_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ColorRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BullyServiceServer).Color(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/bully_pb.BullyService/Color",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BullyServiceServer).Color(ctx, req.(*ColorRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BullyService_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BullyServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/bully_pb.BullyService/Status",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BullyServiceServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var _BullyService_serviceDesc = grpc.ServiceDesc{
	ServiceName: "bully_pb.BullyService",
	HandlerType: (*BullyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Election",
			Handler:    _BullyService_Election_Handler,
		},
		{
			MethodName: "Victory",
			Handler:    _BullyService_Victory_Handler,
		},
		{
			MethodName: "Heartbeat",
			Handler:    _BullyService_Heartbeat_Handler,
		},
		{
			MethodName: "Color",
			Handler:    _BullyService_Color_Handler,
		},
		{
			MethodName: "Status",
			Handler:    _BullyService_Status_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bully.proto",
}
