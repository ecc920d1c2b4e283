package rpc

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	if c := encoding.GetCodec(CodecName); c == nil {
		t.Fatal("json codec not registered")
	}
}

func TestMethodNames(t *testing.T) {
	if MethodCreate != "/ctxreg.v1.RegistryService/Create" {
		t.Fatalf("MethodCreate = %q", MethodCreate)
	}
}
