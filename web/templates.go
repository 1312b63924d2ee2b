package web

import "html/template"

var (
	homeTmpl     = template.Must(template.New("home").Parse(homePage))
	loginTmpl    = template.Must(template.New("login").Parse(loginPage))
	relayTmpl    = template.Must(template.New("relay").Parse(relayPage))
	callbackTmpl = template.Must(template.New("callback").Parse(callbackPage))
)

const pageStyle = `
        body { font-family: Arial, sans-serif; max-width: 640px; margin: 50px auto; padding: 20px; }
        h1 { color: #333; }
        .status { padding: 12px; margin: 16px 0; border-radius: 5px; }
        .ok { background-color: #d4edda; color: #155724; }
        .warn { background-color: #fff3cd; color: #856404; }
        .err { background-color: #f8d7da; color: #721c24; }
        .button { display: inline-block; padding: 10px 20px; margin: 8px 4px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px; border: none; cursor: pointer; }
        .button.secondary { background-color: #6c757d; }
        img.avatar { height: 48px; border-radius: 50%; vertical-align: middle; }
        form label { display: block; margin: 8px 0 2px; }
        form input { padding: 6px; width: 100%; box-sizing: border-box; }`

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>authd</title>
    <meta charset="utf-8">
    <style>` + pageStyle + `</style>
</head>
<body>
    <h1>authd</h1>
    {{if .Notice}}
    <div class="status {{if eq .Notice.Kind "error"}}err{{else}}ok{{end}}">
        <strong>{{.Notice.Title}}</strong> {{.Notice.Message}}
    </div>
    {{end}}
    {{if .Identity}}
    <div class="status ok">
        <p><strong>Signed in</strong> ({{.Identity.Provider}})</p>
        {{if .Identity.PictureURL}}<img class="avatar" src="{{.Identity.PictureURL}}" alt="">{{end}}
        {{if .Identity.Name}}<p>Name: {{.Identity.Name}}</p>{{end}}
        <p>Email: {{.Identity.Email}}</p>
    </div>
    <a href="/logout" class="button secondary">Sign out</a>
    {{else}}
    <div class="status warn"><p>Not signed in.</p></div>
    <a href="/login" class="button">Sign in</a>
    {{end}}
</body>
</html>`

const loginPage = `<!DOCTYPE html>
<html>
<head>
    <title>Sign in</title>
    <meta charset="utf-8">
    <style>` + pageStyle + `</style>
</head>
<body>
    <h1>Sign in</h1>
    {{if .Error}}<div class="status err">{{.Error}}</div>{{end}}
    <a href="/login/provider" class="button">Sign in with your provider</a>
    <h2>Or continue locally</h2>
    <form method="post" action="/login/local">
        <label for="email">Email</label>
        <input id="email" name="email" type="email" required>
        <label for="name">Display name (optional)</label>
        <input id="name" name="name" type="text">
        <button type="submit" class="button">Continue</button>
    </form>
</body>
</html>`

// relayPage moves implicit-flow parameters out of the URL fragment, which
// never reaches the server, onto the finish route. The payload travels in a
// POST body so tokens never appear in a request line or a server log, and
// history.replaceState strips the fragment from the visible address without
// adding a history entry.
const relayPage = `<!DOCTYPE html>
<html>
<head>
    <title>Signing you in...</title>
    <meta charset="utf-8">
    <style>` + pageStyle + `</style>
</head>
<body>
    <h1>Signing you in...</h1>
    <div class="status warn"><p>Please wait while we complete your sign-in.</p></div>
    <script>
        var frag = window.location.hash.replace(/^#/, '');
        history.replaceState(null, '', window.location.pathname);
        var form = document.createElement('form');
        form.method = 'post';
        form.action = '/auth/callback/finish';
        var field = document.createElement('input');
        field.type = 'hidden';
        field.name = 'response';
        field.value = frag;
        form.appendChild(field);
        document.body.appendChild(form);
        form.submit();
    </script>
</body>
</html>`

// callbackPage renders the terminal state. Scheduled navigation uses
// location.replace so the callback page never stays in history.
const callbackPage = `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta charset="utf-8">
    <style>` + pageStyle + `</style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <div class="status {{.Class}}"><p>{{.Message}}</p></div>
    {{if .ShowRetry}}
    <a href="/login" class="button">Try Again</a>
    <a href="/" class="button secondary">Go Home</a>
    {{end}}
    {{if .RedirectPath}}
    <p>Redirecting...</p>
    <script>
        setTimeout(function () { window.location.replace({{.RedirectPath}}); }, {{.RedirectMillis}});
    </script>
    {{end}}
</body>
</html>`
