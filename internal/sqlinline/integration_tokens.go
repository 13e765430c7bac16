package sqlinline

const QSelectShopToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from shop_tokens
where shop_domain = $1::text
limit 1;
`

const QUpsertShopToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
with incoming as (
    select
        $1::text as shop_domain,
        $2::text as token,
        coalesce($3::jsonb, '{}'::jsonb) as properties
)
insert into shop_tokens (id, shop_domain, token, properties, created_at, updated_at)
values (gen_random_uuid(), (select shop_domain from incoming), (select token from incoming), (select properties from incoming), now(), now())
on conflict (shop_domain) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
