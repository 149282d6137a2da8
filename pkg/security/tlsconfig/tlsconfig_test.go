package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "io"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type files struct{ ca, cert, key string }

// writePKI writes a CA and a leaf for 127.0.0.1 signed by it.
func writePKI(t *testing.T) files {
    t.Helper()
    dir := t.TempDir()
    caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    caTmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(1),
        Subject:               pkix.Name{CommonName: "test-ca"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        KeyUsage:              x509.KeyUsageCertSign,
        BasicConstraintsValid: true,
    }
    caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
    require.NoError(t, err)
    caCert, err := x509.ParseCertificate(caDER)
    require.NoError(t, err)

    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    leafTmpl := &x509.Certificate{
        SerialNumber: big.NewInt(2),
        Subject:      pkix.Name{CommonName: "node"},
        NotBefore:    time.Now().Add(-time.Hour),
        NotAfter:     time.Now().Add(time.Hour),
        IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
        KeyUsage:     x509.KeyUsageDigitalSignature,
        ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
    }
    leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caCert, &key.PublicKey, caKey)
    require.NoError(t, err)
    keyDER, err := x509.MarshalECPrivateKey(key)
    require.NoError(t, err)

    f := files{ca: filepath.Join(dir, "ca.pem"), cert: filepath.Join(dir, "node.pem"), key: filepath.Join(dir, "node-key.pem")}
    write := func(path, typ string, der []byte) {
        require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600))
    }
    write(f.ca, "CERTIFICATE", caDER)
    write(f.cert, "CERTIFICATE", leafDER)
    write(f.key, "EC PRIVATE KEY", keyDER)
    return f
}

func TestDisabledYieldsNil(t *testing.T) {
    c, err := Options{}.Client()
    require.NoError(t, err)
    assert.Nil(t, c)
    s, err := Options{}.Server()
    require.NoError(t, err)
    assert.Nil(t, s)
}

func TestServerNeedsKeyPair(t *testing.T) {
    _, err := Options{Enable: true}.Server()
    assert.ErrorIs(t, err, ErrKeyPairRequired)
}

func TestBadCAFile(t *testing.T) {
    path := filepath.Join(t.TempDir(), "ca.pem")
    require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))
    _, err := Options{Enable: true, CAFile: path}.Client()
    assert.Error(t, err)
}

func TestMutualTLSHandshake(t *testing.T) {
    f := writePKI(t)
    opts := Options{Enable: true, CAFile: f.ca, CertFile: f.cert, KeyFile: f.key}
    srvCfg, err := opts.Server()
    require.NoError(t, err)
    assert.Equal(t, tls.RequireAndVerifyClientCert, srvCfg.ClientAuth)
    cliCfg, err := opts.ClientHotReload()
    require.NoError(t, err)

    ln, err := tls.Listen("tcp", "127.0.0.1:0", srvCfg)
    require.NoError(t, err)
    defer ln.Close()
    go func() {
        conn, err := ln.Accept()
        if err != nil { return }
        defer conn.Close()
        _, _ = conn.Write([]byte("hi"))
    }()

    conn, err := tls.Dial("tcp", ln.Addr().String(), cliCfg)
    require.NoError(t, err)
    defer conn.Close()
    buf := make([]byte, 2)
    _, err = io.ReadFull(conn, buf)
    require.NoError(t, err)
    assert.Equal(t, "hi", string(buf))

    // Without a client certificate the server must refuse.
    plain, err := Options{Enable: true, CAFile: f.ca}.Client()
    require.NoError(t, err)
    go func() {
        conn, err := ln.Accept()
        if err != nil { return }
        defer conn.Close()
        _ = conn.(*tls.Conn).Handshake()
    }()
    conn2, err := tls.Dial("tcp", ln.Addr().String(), plain)
    if err == nil {
        defer conn2.Close()
        _, err = conn2.Read(buf)
    }
    assert.Error(t, err)
}

func TestKeyPairKeepsLastGoodOnReadError(t *testing.T) {
    f := writePKI(t)
    kp := Options{CertFile: f.cert, KeyFile: f.key, ReloadEvery: time.Nanosecond}.keyPair()
    first, err := kp.get()
    require.NoError(t, err)
    require.NoError(t, os.Remove(f.key))
    time.Sleep(time.Millisecond)
    again, err := kp.get()
    require.NoError(t, err)
    assert.Same(t, first, again)
}
