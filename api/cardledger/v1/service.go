package cardledgerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "cardledger.v1.CardLedgerService"

	CardLedgerService_IssueCard_FullMethodName          = "/cardledger.v1.CardLedgerService/IssueCard"
	CardLedgerService_GetCard_FullMethodName            = "/cardledger.v1.CardLedgerService/GetCard"
	CardLedgerService_UpdateCard_FullMethodName         = "/cardledger.v1.CardLedgerService/UpdateCard"
	CardLedgerService_CreateLoyaltyCard_FullMethodName  = "/cardledger.v1.CardLedgerService/CreateLoyaltyCard"
	CardLedgerService_GetLoyaltyCard_FullMethodName     = "/cardledger.v1.CardLedgerService/GetLoyaltyCard"
	CardLedgerService_RecordVerification_FullMethodName = "/cardledger.v1.CardLedgerService/RecordVerification"
	CardLedgerService_ProcessPayment_FullMethodName     = "/cardledger.v1.CardLedgerService/ProcessPayment"
	CardLedgerService_ListTransactions_FullMethodName   = "/cardledger.v1.CardLedgerService/ListTransactions"
)

// CardLedgerServiceClient is the client API for CardLedgerService.
type CardLedgerServiceClient interface {
	IssueCard(ctx context.Context, in *IssueCardRequest, opts ...grpc.CallOption) (*Card, error)
	GetCard(ctx context.Context, in *GetCardRequest, opts ...grpc.CallOption) (*Card, error)
	UpdateCard(ctx context.Context, in *UpdateCardRequest, opts ...grpc.CallOption) (*Card, error)
	CreateLoyaltyCard(ctx context.Context, in *CreateLoyaltyCardRequest, opts ...grpc.CallOption) (*LoyaltyCard, error)
	GetLoyaltyCard(ctx context.Context, in *GetLoyaltyCardRequest, opts ...grpc.CallOption) (*LoyaltyCard, error)
	RecordVerification(ctx context.Context, in *RecordVerificationRequest, opts ...grpc.CallOption) (*LoyaltyCard, error)
	ProcessPayment(ctx context.Context, in *ProcessPaymentRequest, opts ...grpc.CallOption) (*ProcessPaymentResponse, error)
	ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error)
}

type cardLedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCardLedgerServiceClient(cc grpc.ClientConnInterface) CardLedgerServiceClient {
	return &cardLedgerServiceClient{cc: cc}
}

func (c *cardLedgerServiceClient) invoke(ctx context.Context, method string, in any, out any, opts []grpc.CallOption) error {
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, callOptions...)
}

func (c *cardLedgerServiceClient) IssueCard(ctx context.Context, in *IssueCardRequest, opts ...grpc.CallOption) (*Card, error) {
	out := new(Card)
	if err := c.invoke(ctx, CardLedgerService_IssueCard_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) GetCard(ctx context.Context, in *GetCardRequest, opts ...grpc.CallOption) (*Card, error) {
	out := new(Card)
	if err := c.invoke(ctx, CardLedgerService_GetCard_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) UpdateCard(ctx context.Context, in *UpdateCardRequest, opts ...grpc.CallOption) (*Card, error) {
	out := new(Card)
	if err := c.invoke(ctx, CardLedgerService_UpdateCard_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) CreateLoyaltyCard(ctx context.Context, in *CreateLoyaltyCardRequest, opts ...grpc.CallOption) (*LoyaltyCard, error) {
	out := new(LoyaltyCard)
	if err := c.invoke(ctx, CardLedgerService_CreateLoyaltyCard_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) GetLoyaltyCard(ctx context.Context, in *GetLoyaltyCardRequest, opts ...grpc.CallOption) (*LoyaltyCard, error) {
	out := new(LoyaltyCard)
	if err := c.invoke(ctx, CardLedgerService_GetLoyaltyCard_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) RecordVerification(ctx context.Context, in *RecordVerificationRequest, opts ...grpc.CallOption) (*LoyaltyCard, error) {
	out := new(LoyaltyCard)
	if err := c.invoke(ctx, CardLedgerService_RecordVerification_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) ProcessPayment(ctx context.Context, in *ProcessPaymentRequest, opts ...grpc.CallOption) (*ProcessPaymentResponse, error) {
	out := new(ProcessPaymentResponse)
	if err := c.invoke(ctx, CardLedgerService_ProcessPayment_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cardLedgerServiceClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error) {
	out := new(ListTransactionsResponse)
	if err := c.invoke(ctx, CardLedgerService_ListTransactions_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// CardLedgerServiceServer is the server API for CardLedgerService.
// Implementations must embed UnimplementedCardLedgerServiceServer.
type CardLedgerServiceServer interface {
	IssueCard(context.Context, *IssueCardRequest) (*Card, error)
	GetCard(context.Context, *GetCardRequest) (*Card, error)
	UpdateCard(context.Context, *UpdateCardRequest) (*Card, error)
	CreateLoyaltyCard(context.Context, *CreateLoyaltyCardRequest) (*LoyaltyCard, error)
	GetLoyaltyCard(context.Context, *GetLoyaltyCardRequest) (*LoyaltyCard, error)
	RecordVerification(context.Context, *RecordVerificationRequest) (*LoyaltyCard, error)
	ProcessPayment(context.Context, *ProcessPaymentRequest) (*ProcessPaymentResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
	mustEmbedUnimplementedCardLedgerServiceServer()
}

// UnimplementedCardLedgerServiceServer answers every method with codes.Unimplemented.
type UnimplementedCardLedgerServiceServer struct{}

func (UnimplementedCardLedgerServiceServer) IssueCard(context.Context, *IssueCardRequest) (*Card, error) {
	return nil, status.Errorf(codes.Unimplemented, "method IssueCard not implemented")
}
func (UnimplementedCardLedgerServiceServer) GetCard(context.Context, *GetCardRequest) (*Card, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetCard not implemented")
}
func (UnimplementedCardLedgerServiceServer) UpdateCard(context.Context, *UpdateCardRequest) (*Card, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UpdateCard not implemented")
}
func (UnimplementedCardLedgerServiceServer) CreateLoyaltyCard(context.Context, *CreateLoyaltyCardRequest) (*LoyaltyCard, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateLoyaltyCard not implemented")
}
func (UnimplementedCardLedgerServiceServer) GetLoyaltyCard(context.Context, *GetLoyaltyCardRequest) (*LoyaltyCard, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetLoyaltyCard not implemented")
}
func (UnimplementedCardLedgerServiceServer) RecordVerification(context.Context, *RecordVerificationRequest) (*LoyaltyCard, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RecordVerification not implemented")
}
func (UnimplementedCardLedgerServiceServer) ProcessPayment(context.Context, *ProcessPaymentRequest) (*ProcessPaymentResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ProcessPayment not implemented")
}
func (UnimplementedCardLedgerServiceServer) ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListTransactions not implemented")
}
func (UnimplementedCardLedgerServiceServer) mustEmbedUnimplementedCardLedgerServiceServer() {}

func RegisterCardLedgerServiceServer(registrar grpc.ServiceRegistrar, server CardLedgerServiceServer) {
	registrar.RegisterService(&CardLedgerService_ServiceDesc, server)
}

// unaryHandler adapts a typed server method to the grpc.MethodDesc handler signature.
func unaryHandler[Request any, Response any](
	fullMethod string,
	call func(CardLedgerServiceServer, context.Context, *Request) (*Response, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Request)
		if err := decode(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(server.(CardLedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(server.(CardLedgerServiceServer), ctx, request.(*Request))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CardLedgerService_ServiceDesc is the grpc.ServiceDesc for CardLedgerService.
var CardLedgerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CardLedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "IssueCard",
			Handler:    unaryHandler(CardLedgerService_IssueCard_FullMethodName, CardLedgerServiceServer.IssueCard),
		},
		{
			MethodName: "GetCard",
			Handler:    unaryHandler(CardLedgerService_GetCard_FullMethodName, CardLedgerServiceServer.GetCard),
		},
		{
			MethodName: "UpdateCard",
			Handler:    unaryHandler(CardLedgerService_UpdateCard_FullMethodName, CardLedgerServiceServer.UpdateCard),
		},
		{
			MethodName: "CreateLoyaltyCard",
			Handler:    unaryHandler(CardLedgerService_CreateLoyaltyCard_FullMethodName, CardLedgerServiceServer.CreateLoyaltyCard),
		},
		{
			MethodName: "GetLoyaltyCard",
			Handler:    unaryHandler(CardLedgerService_GetLoyaltyCard_FullMethodName, CardLedgerServiceServer.GetLoyaltyCard),
		},
		{
			MethodName: "RecordVerification",
			Handler:    unaryHandler(CardLedgerService_RecordVerification_FullMethodName, CardLedgerServiceServer.RecordVerification),
		},
		{
			MethodName: "ProcessPayment",
			Handler:    unaryHandler(CardLedgerService_ProcessPayment_FullMethodName, CardLedgerServiceServer.ProcessPayment),
		},
		{
			MethodName: "ListTransactions",
			Handler:    unaryHandler(CardLedgerService_ListTransactions_FullMethodName, CardLedgerServiceServer.ListTransactions),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cardledger/v1",
}
