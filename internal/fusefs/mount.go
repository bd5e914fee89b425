package fusefs

import (
	"fmt"
	"os"

	"github.com/hanwen/go-fuse/v2/fuse"

	"biblfs/internal/biblfs"
)

// DefaultFsName is the source shown in /proc/mounts.
const DefaultFsName = "bibliothecula"

// Options configures a mount.
type Options struct {
	// MountPoint is an existing directory.
	MountPoint string

	// FsName defaults to DefaultFsName.
	FsName string

	// AllowOther lets other users access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug traces every kernel request on stderr.
	Debug bool

	Logger biblfs.Logger
}

// Server is a mounted filesystem.
type Server struct {
	srv        *fuse.Server
	mountPoint string
	logger     biblfs.Logger
}

func mountOptions(opts Options) *fuse.MountOptions {
	fsName := opts.FsName
	if fsName == "" {
		fsName = DefaultFsName
	}
	return &fuse.MountOptions{
		FsName:     fsName,
		Name:       "biblfs",
		AllowOther: opts.AllowOther,
		Debug:      opts.Debug,
	}
}

// Mount serves h at opts.MountPoint and returns once the kernel has
// accepted the mount. The caller must Unmount the returned Server.
func Mount(h *biblfs.Handler, opts Options) (*Server, error) {
	if opts.MountPoint == "" {
		return nil, fmt.Errorf("mount point is required")
	}
	info, err := os.Stat(opts.MountPoint)
	if err != nil {
		return nil, fmt.Errorf("checking mount point: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mount point %s is not a directory", opts.MountPoint)
	}
	if opts.Logger == nil {
		opts.Logger = biblfs.NewNopLogger()
	}

	srv, err := fuse.NewServer(NewFileSystem(h), opts.MountPoint, mountOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("mounting at %s: %w", opts.MountPoint, err)
	}

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		srv.Unmount()
		return nil, fmt.Errorf("waiting for mount at %s: %w", opts.MountPoint, err)
	}

	opts.Logger.Info("mounted", "mount_point", opts.MountPoint)
	return &Server{srv: srv, mountPoint: opts.MountPoint, logger: opts.Logger}, nil
}

// MountPoint returns the directory the filesystem is mounted on.
func (s *Server) MountPoint() string { return s.mountPoint }

// Wait blocks until the filesystem is unmounted.
func (s *Server) Wait() { s.srv.Wait() }

// Unmount detaches the filesystem. It fails while files are open.
func (s *Server) Unmount() error {
	if err := s.srv.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", s.mountPoint, err)
	}
	s.logger.Info("unmounted", "mount_point", s.mountPoint)
	return nil
}
