package framebuffer

import "golang.org/x/image/math/f64"

var identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// mul returns a*b: applying the result is applying b, then a.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func translate(dx, dy float64) f64.Aff3 {
	return f64.Aff3{1, 0, dx, 0, 1, dy}
}

// scaleAbout scales by (sx, sy) keeping (px, py) fixed.
func scaleAbout(sx, sy, px, py float64) f64.Aff3 {
	return f64.Aff3{sx, 0, px - sx*px, 0, sy, py - sy*py}
}

// Apply maps a point through m.
func Apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func isIdentity(m f64.Aff3) bool {
	return m == identity
}
