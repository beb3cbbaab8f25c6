package httpapi

import "testing"

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  admin@example.com  ":                             "admin@example.com",
		"a<script>alert(1)</script>b":                       "ab",
		"x<SCRIPT type=\"text/javascript\">\n1\n</script >": "x",
		"plain": "plain",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoginRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    loginRequest
		fields []string
	}{
		{"valid", loginRequest{Email: " Admin@Example.com", Password: "secret"}, nil},
		{"missing both", loginRequest{}, []string{"email", "password"}},
		{"bad email", loginRequest{Email: "nope", Password: "secret"}, []string{"email"}},
		{"short password", loginRequest{Email: "a@example.com", Password: "12345"}, []string{"password"}},
		{"blank password", loginRequest{Email: "a@example.com", Password: "   "}, []string{"password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.req.validate()
			if len(errs) != len(tt.fields) {
				t.Fatalf("got %+v, want fields %v", errs, tt.fields)
			}
			for i, f := range tt.fields {
				if errs[i].Field != f {
					t.Fatalf("field %d = %q, want %q", i, errs[i].Field, f)
				}
			}
		})
	}

	req := loginRequest{Email: " Admin@Example.com "}
	req.validate()
	if req.Email != "admin@example.com" {
		t.Fatalf("email not normalized: %q", req.Email)
	}
}
