package wire

import "testing"

func TestStorageUnitParamsRoundTrip(t *testing.T) {
	p := &StorageUnitParams{
		GUID:              [16]byte{1, 2, 3, 4},
		BlockCount:        1 << 20,
		BlockLength:       4096,
		DeviceType:        0,
		Flags:             FlagCacheSupported | FlagUnmapSupported,
		MaxTransferLength: 1 << 16,
	}
	copy(p.ProductID[:], "spd-unit")
	copy(p.ProductRevision[:], "1.0")

	buf := p.Marshal()
	if len(buf) != StorageUnitParamsSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), StorageUnitParamsSize)
	}

	got, err := UnmarshalStorageUnitParams(buf)
	if err != nil {
		t.Fatalf("UnmarshalStorageUnitParams: %v", err)
	}
	if got.GUID != p.GUID {
		t.Errorf("GUID = %v, want %v", got.GUID, p.GUID)
	}
	if got.BlockCount != p.BlockCount || got.BlockLength != p.BlockLength {
		t.Errorf("BlockCount/BlockLength mismatch: got %d/%d, want %d/%d",
			got.BlockCount, got.BlockLength, p.BlockCount, p.BlockLength)
	}
	if !got.CacheSupported() || !got.UnmapSupported() || got.WriteProtected() {
		t.Errorf("flag decode mismatch: cache=%v unmap=%v writeProtected=%v",
			got.CacheSupported(), got.UnmapSupported(), got.WriteProtected())
	}
}

func TestUnmarshalStorageUnitParamsShortBuffer(t *testing.T) {
	if _, err := UnmarshalStorageUnitParams(make([]byte, 10)); err != ErrShortBuffer {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
}

func TestTransactRequestRoundTrip(t *testing.T) {
	req := &TransactRequest{
		Hint:         0xdeadbeef,
		Kind:         KindWrite,
		FUA:          true,
		BlockAddress: 12345,
		BlockCount:   8,
	}
	buf := req.Marshal()
	if len(buf) != TransactRequestSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), TransactRequestSize)
	}

	got, err := UnmarshalTransactRequest(buf)
	if err != nil {
		t.Fatalf("UnmarshalTransactRequest: %v", err)
	}
	if *got != *req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestUnmarshalTransactRequestShortBuffer(t *testing.T) {
	if _, err := UnmarshalTransactRequest(make([]byte, 4)); err != ErrShortBuffer {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
}

func TestTransactResponseRoundTrip(t *testing.T) {
	resp := &TransactResponse{
		Hint:             42,
		Kind:             KindRead,
		SCSIStatus:       0x02,
		SenseKey:         0x03,
		ASC:              0x11,
		ASCQ:             0x00,
		InformationValid: true,
		Information:      99,
	}
	buf := resp.Marshal()
	if len(buf) != TransactResponseSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), TransactResponseSize)
	}

	got, err := UnmarshalTransactResponse(buf)
	if err != nil {
		t.Fatalf("UnmarshalTransactResponse: %v", err)
	}
	if *got != *resp {
		t.Errorf("got %+v, want %+v", got, resp)
	}
}

func TestUnmapDescriptorRoundTrip(t *testing.T) {
	descs := []UnmapDescriptor{
		{BlockAddress: 100, BlockCount: 10},
		{BlockAddress: 500, BlockCount: 1},
	}
	buf := make([]byte, len(descs)*UnmapDescriptorSize)
	for i := range descs {
		descs[i].Marshal(buf[i*UnmapDescriptorSize : (i+1)*UnmapDescriptorSize])
	}

	got, err := UnmarshalUnmapDescriptors(buf, len(descs))
	if err != nil {
		t.Fatalf("UnmarshalUnmapDescriptors: %v", err)
	}
	for i := range descs {
		if got[i] != descs[i] {
			t.Errorf("descriptor %d = %+v, want %+v", i, got[i], descs[i])
		}
	}
}

func TestUnmarshalUnmapDescriptorsShortBuffer(t *testing.T) {
	if _, err := UnmarshalUnmapDescriptors(make([]byte, 8), 1); err != ErrShortBuffer {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
}

func TestRequestKindString(t *testing.T) {
	cases := map[RequestKind]string{
		KindRead:         "Read",
		KindWrite:        "Write",
		KindFlush:        "Flush",
		KindUnmap:        "Unmap",
		RequestKind(255): "Unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
