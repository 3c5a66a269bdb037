package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
)

// remoteReader is a thin client over one dialed connection, used to pull
// file chunks from a peer's reader registry.
type remoteReader struct {
	conn *grpc.ClientConn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp interface{}) error {
	return conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(codecName))
}

// downloadFile fetches filename in chunkSize-sized pieces from readerID and
// writes it into destDir, overwriting any existing file of the same name.
func (c *remoteReader) downloadFile(ctx context.Context, readerID, filename, destDir string, chunkSize uint64) error {
	dest := filepath.Join(destDir, filepath.Base(filename))
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()

	var offset uint64
	for {
		req := &GetFileRequest{ReaderID: readerID, Filename: filename, Offset: offset, Size: chunkSize}
		resp := new(GetFileResponse)
		if err := invoke(ctx, c.conn, "GetFile", req, resp); err != nil {
			return fmt.Errorf("GetFile rpc failed: %w", err)
		}
		if len(resp.Data) > 0 {
			if _, err := f.Write(resp.Data); err != nil {
				return fmt.Errorf("failed to write %s: %w", dest, err)
			}
			offset += resp.ReadSize
		}
		if resp.EOF {
			return nil
		}
	}
}

func (c *remoteReader) cleanReader(ctx context.Context, readerID string) error {
	req := &CleanFileReaderRequest{ReaderID: readerID}
	resp := new(CleanFileReaderResponse)
	return invoke(ctx, c.conn, "CleanFileReader", req, resp)
}

func (c *remoteReader) installVectorIndexSnapshot(ctx context.Context, req *InstallVectorIndexSnapshotRequest) error {
	resp := new(InstallVectorIndexSnapshotResponse)
	return invoke(ctx, c.conn, "InstallVectorIndexSnapshot", req, resp)
}

func (c *remoteReader) getVectorIndexSnapshot(ctx context.Context, req *GetVectorIndexSnapshotRequest) (*GetVectorIndexSnapshotResponse, error) {
	resp := new(GetVectorIndexSnapshotResponse)
	if err := invoke(ctx, c.conn, "GetVectorIndexSnapshot", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
