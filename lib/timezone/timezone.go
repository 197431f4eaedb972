package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
}

// force timezone to be JST because the portal's maintenance window,
// term boundaries and every displayed datetime are campus-local, so
// a server that ends up in another zone would misjudge all of them
func Now() time.Time {
	return time.Now().In(Location)
}
