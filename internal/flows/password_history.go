package flows

import "context"

// PasswordReuseDeps captures password reuse check dependencies.
type PasswordReuseDeps struct {
	Depth  int
	Recent func(ctx context.Context, userID string, limit int) ([]string, error)
	Verify func(plain, hash string) (bool, error)
}

// RunPasswordReuseCheck reports whether plain matches any of the user's last
// Depth password hashes. Verification errors on individual legacy rows are
// skipped; store errors are returned.
func RunPasswordReuseCheck(ctx context.Context, userID, plain string, deps PasswordReuseDeps) (bool, error) {
	if deps.Depth <= 0 {
		return false, nil
	}
	hashes, err := deps.Recent(ctx, userID, deps.Depth)
	if err != nil {
		return false, err
	}
	for _, h := range hashes {
		ok, err := deps.Verify(plain, h)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
