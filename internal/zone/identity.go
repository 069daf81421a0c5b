package zone

import "golang.org/x/sys/unix"

// Identity describes the user driving the build.
type Identity struct {
	UID  int
	GID  int
	Root bool
}

// CurrentIdentity returns the real uid/gid of this process.
func CurrentIdentity() Identity {
	return Identity{
		UID:  unix.Getuid(),
		GID:  unix.Getgid(),
		Root: unix.Geteuid() == 0,
	}
}
