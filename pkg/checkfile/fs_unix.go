//go:build !windows

package checkfile

import (
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

func osAttributeViews() []string {
	return []string{ViewBasic, ViewOwner, ViewPosix, ViewUnix}
}

// ownership stats name and maps the numeric ids to names. An id with no
// matching account is returned as its decimal form.
func ownership(name string) (string, string, error) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return "", "", err
	}
	return userName(st.Uid), groupName(st.Gid), nil
}

func userName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}

func groupName(gid uint32) string {
	id := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(id); err == nil {
		return g.Name
	}
	return id
}
