package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// invokeStruct round-trips in and out through their JSON forms and a Struct
// message. Errors from the server are returned unchanged so callers can
// inspect the gRPC status.
func invokeStruct(ctx context.Context, conn grpc.ClientConnInterface, method string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		return err
	}

	data, err = json.Marshal(resp.AsMap())
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
