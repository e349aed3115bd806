package naming

import "fmt"

func Firewall(app string) string {
	return app
}

func SSHKey(app string) string {
	return app
}

func Volume(app, volume string) string {
	return fmt.Sprintf("%s-%s", app, volume)
}

func Server(app, machine string) string {
	return fmt.Sprintf("%s-%s", app, machine)
}

// PrimaryIP names an address; suffix keeps repeated allocations apart.
func PrimaryIP(app, suffix string) string {
	return fmt.Sprintf("%s-ip-%s", app, suffix)
}
